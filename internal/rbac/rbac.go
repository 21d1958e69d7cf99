package rbac

// Escrow party roles
const (
	RoleBuyer    = "buyer"
	RoleSeller   = "seller"
	RoleMediator = "mediator"
)

// Permission constants
const (
	PermFundMilestone     = "fund_milestone"
	PermSubmitDeliverable = "submit_deliverable"
	PermReleaseMilestone  = "release_milestone"
	PermRaiseDispute      = "raise_dispute"
	PermResolveDispute    = "resolve_dispute"
	PermCancelEscrow      = "cancel_escrow"
)

// RolePermissions defines what each escrow party may do.
var RolePermissions = map[string][]string{
	RoleBuyer: {
		PermFundMilestone, PermReleaseMilestone, PermRaiseDispute, PermCancelEscrow,
	},
	RoleSeller: {
		PermSubmitDeliverable, PermRaiseDispute, PermCancelEscrow,
	},
	RoleMediator: {
		PermResolveDispute,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// IsMoneyMoving reports whether the permission moves funds; money-moving
// operations additionally require KYC-verified callers.
func IsMoneyMoving(permission string) bool {
	return permission == PermFundMilestone ||
		permission == PermReleaseMilestone ||
		permission == PermResolveDispute
}
