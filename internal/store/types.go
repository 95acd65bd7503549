package store

import "time"

// Role is an OrganizationMember's role. Ordering: Owner > Admin > Maintainer > Member.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleMaintainer Role = "maintainer"
	RoleMember     Role = "member"
)

// rank returns a comparable ordering for role precedence checks.
func (r Role) rank() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleMaintainer:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r is the same as or outranks other.
func (r Role) AtLeast(other Role) bool {
	return r.rank() >= other.rank()
}

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

type GranteeKind string

const (
	GranteeUser GranteeKind = "user"
	GranteeOrg  GranteeKind = "org"
)

type PermissionLevel string

const (
	PermissionRead  PermissionLevel = "read"
	PermissionWrite PermissionLevel = "write"
	PermissionAdmin PermissionLevel = "admin"
)

type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Organization struct {
	ID          int64
	Name        string
	DisplayName string
	Description string
	CreatedAt   time.Time
}

type OrganizationMember struct {
	OrgID     int64
	UserID    int64
	Role      Role
	JoinedAt  time.Time
	InvitedBy *int64
}

type Repository struct {
	ID         int64
	OrgID      int64
	OrgName    string
	Name       string
	Visibility Visibility
	CreatedBy  *int64
	CreatedAt  time.Time
}

// FullName is the "org/repo" namespaced identifier.
func (r Repository) FullName() string {
	return r.OrgName + "/" + r.Name
}

type RepositoryPermission struct {
	ID           int64
	RepositoryID int64
	GranteeKind  GranteeKind
	GranteeID    int64
	Level        PermissionLevel
}

type ApiKey struct {
	ID         int64
	UserID     int64
	Name       string
	KeyHash    string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	IsActive   bool
	CreatedAt  time.Time
}

type UploadSessionState string

const (
	UploadOpen       UploadSessionState = "open"
	UploadFinalized  UploadSessionState = "finalized"
	UploadCancelled  UploadSessionState = "cancelled"
)

type UploadSession struct {
	UUID           string
	RepositoryID   int64
	UserID         *int64
	State          UploadSessionState
	CurrentOffset  int64
	RollingHash    []byte // serialized sha256 hash.Hash state via encoding.BinaryMarshaler
	CreatedAt      time.Time
	LastActivityAt time.Time
	CompletedAt    *time.Time
}

type Manifest struct {
	ID           int64
	RepositoryID int64
	Digest       string
	MediaType    string
	Size         int64
	CreatedAt    time.Time
}

type Tag struct {
	RepositoryID int64
	Name         string
	ManifestID   int64
	ManifestDigest string
	UpdatedAt    time.Time
}

type PasswordResetToken struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
}
