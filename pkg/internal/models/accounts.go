package models

type AccountRole = string

const (
	RoleDriver     = AccountRole("driver")
	RoleDispatcher = AccountRole("dispatcher")
	RoleAdmin      = AccountRole("admin")
)

// Account rows are provisioned by the dispatch CRUD layer; this service only
// reads them to resolve identities on the gateway and in signaling.
type Account struct {
	BaseModel

	Name           string      `json:"name"`
	Nick           string      `json:"nick"`
	Avatar         *string     `json:"avatar"`
	Role           AccountRole `json:"role"`
	OrganizationID uint        `json:"organization_id"`

	Memberships []GroupMember `json:"memberships" gorm:"foreignKey:AccountID"`
}

func (v Account) DisplayName() string {
	if len(v.Nick) > 0 {
		return v.Nick
	}
	return v.Name
}
