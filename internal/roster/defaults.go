package roster

// Well-known worker codes.
const (
	Commander = "COMMANDER-01"
	Architect = "ARCHITECT-01"
	Coder     = "CODER-01"
)

// DefaultWorkers returns the stock roster. The premium workers run on a paid
// provider and only receive explicitly created work.
func DefaultWorkers() []Worker {
	return []Worker{
		{Code: Commander, Name: "Commander", Role: RoleCommander, Profile: ProfileCommander},
		{Code: "REVENUE-01", Name: "Revenue", Role: RoleAnalyst, Profile: ProfileRevenue},
		{Code: "GROWTH-01", Name: "Growth", Role: RoleGrowth, Profile: ProfileGrowth},
		{Code: "BD-01", Name: "Business Development", Role: RoleBD, Profile: ProfileBD},
		{Code: "ANALYST-01", Name: "Analyst", Role: RoleAnalyst, Profile: ProfileAnalyst},
		{Code: "SOCIAL-01", Name: "Social", Role: RoleGrowth, Profile: ProfileSocial},
		{Code: "CONTENT-01", Name: "Content", Role: RoleGrowth, Profile: ProfileContent},
		{Code: "SUPPORT-01", Name: "Support", Role: RoleSupport, Profile: ProfileSupport},
		{Code: "SECURITY-01", Name: "Security", Role: RoleRisk, Profile: ProfileRisk},
		{Code: "DEVREL-01", Name: "Developer Relations", Role: RoleBD, Profile: ProfileDevRel},
		{Code: "LEGAL-01", Name: "Legal", Role: RoleRisk, Profile: ProfileLegal},
		{Code: Architect, Name: "Architect", Role: RoleArchitect, Profile: ProfileArchitect, Premium: true},
		{Code: Coder, Name: "Coder", Role: RoleCoder, Profile: ProfileCoder, Premium: true},
	}
}
