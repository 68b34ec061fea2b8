package auth

const (
	PermCompanyRegister     = "captable.company.register"
	PermShareholderRegister = "captable.shareholder.register"
	PermShareClassManage    = "captable.share_class.manage"
	PermAllocationCreate    = "captable.allocation.create"
	PermAllocationTransfer  = "captable.allocation.transfer"
	PermAllocationPayment   = "captable.allocation.payment"
	PermAllocationCancel    = "captable.allocation.cancel"
	PermCapTableRead        = "captable.read"
)

const (
	RoleAdmin            = "admin"
	RoleCompanySecretary = "company_secretary"
	RoleViewer           = "viewer"
)

// BuiltinRoles is the default role -> permission catalog.
var BuiltinRoles = map[string][]string{
	RoleAdmin: {
		PermCompanyRegister,
		PermShareholderRegister,
		PermShareClassManage,
		PermAllocationCreate,
		PermAllocationTransfer,
		PermAllocationPayment,
		PermAllocationCancel,
		PermCapTableRead,
	},
	RoleCompanySecretary: {
		PermShareholderRegister,
		PermAllocationCreate,
		PermAllocationTransfer,
		PermAllocationPayment,
		PermCapTableRead,
	},
	RoleViewer: {
		PermCapTableRead,
	},
}
