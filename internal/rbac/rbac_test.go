package rbac

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role       string
		permission string
		expected   bool
	}{
		{RoleBuyer, PermFundMilestone, true},
		{RoleBuyer, PermReleaseMilestone, true},
		{RoleBuyer, PermRaiseDispute, true},
		{RoleBuyer, PermCancelEscrow, true},
		{RoleBuyer, PermSubmitDeliverable, false},
		{RoleBuyer, PermResolveDispute, false},

		{RoleSeller, PermSubmitDeliverable, true},
		{RoleSeller, PermRaiseDispute, true},
		{RoleSeller, PermFundMilestone, false},
		{RoleSeller, PermReleaseMilestone, false},
		{RoleSeller, PermResolveDispute, false},

		{RoleMediator, PermResolveDispute, true},
		{RoleMediator, PermFundMilestone, false},
		{RoleMediator, PermCancelEscrow, false},

		{"unknown", PermFundMilestone, false},
		{RoleBuyer, "unknown", false},
	}

	for _, tt := range tests {
		t.Run(tt.role+"/"+tt.permission, func(t *testing.T) {
			if got := HasPermission(tt.role, tt.permission); got != tt.expected {
				t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.permission, got, tt.expected)
			}
		})
	}
}

func TestIsMoneyMoving(t *testing.T) {
	moving := []string{PermFundMilestone, PermReleaseMilestone, PermResolveDispute}
	for _, p := range moving {
		if !IsMoneyMoving(p) {
			t.Errorf("IsMoneyMoving(%q) = false, want true", p)
		}
	}
	static := []string{PermSubmitDeliverable, PermRaiseDispute, PermCancelEscrow}
	for _, p := range static {
		if IsMoneyMoving(p) {
			t.Errorf("IsMoneyMoving(%q) = true, want false", p)
		}
	}
}
