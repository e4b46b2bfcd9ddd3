package domain

// Role is the organisational role carried by an authenticated identity.
type Role string

const (
	RoleResident       Role = "resident"
	RoleExecutor       Role = "executor"
	RoleManager        Role = "manager"
	RoleAdmin          Role = "admin"
	RoleDirector       Role = "director"
	RoleDispatcher     Role = "dispatcher"
	RoleDepartmentHead Role = "department_head"
)

// IsExecutor reports whether the role belongs to the executor class.
func (r Role) IsExecutor() bool {
	return r == RoleExecutor
}

// IsManagement reports whether the role sees partition-wide data.
func (r Role) IsManagement() bool {
	switch r {
	case RoleManager, RoleAdmin, RoleDirector, RoleDispatcher, RoleDepartmentHead:
		return true
	default:
		return false
	}
}

// Identity is who a session belongs to. It is authenticated by the connect
// layer and never changes for the lifetime of a session.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
	// PartitionID is the building the identity is bound to. Empty for
	// identities that span buildings.
	PartitionID string `json:"partitionId,omitempty"`
}

// GlobalPartition serves identities that are not bound to one building.
const GlobalPartition = "global"

// Partition returns the partition the identity's sessions live in.
func (i Identity) Partition() string {
	if i.PartitionID == "" {
		return GlobalPartition
	}
	return i.PartitionID
}
