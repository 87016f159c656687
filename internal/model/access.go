package model

import "time"

// ScholarAccess mirrors tbl_access: the user may write content under the
// scholar.
type ScholarAccess struct {
	ID        uint64    `db:"id" json:"id"`
	UserID    uint64    `db:"user_id" json:"user_id"`
	ScholarID uint64    `db:"scholar_id" json:"scholar_id"`
	CreatedBy uint64    `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AccessListing is an ACL row joined with the user email and scholar name.
type AccessListing struct {
	ScholarAccess
	UserEmail   string `db:"user_email" json:"user_email"`
	ScholarName string `db:"scholar_name" json:"scholar_name"`
}

// ScholarPermission is one entry of a caller's permissions summary.
type ScholarPermission struct {
	ScholarID   uint64 `db:"scholar_id" json:"scholar_id"`
	ScholarName string `db:"scholar_name" json:"scholar_name"`
	CanUpload   bool   `db:"-" json:"can_upload"`
	CanDownload bool   `db:"-" json:"can_download"`
	CanManage   bool   `db:"-" json:"can_manage"`
}

type Permissions struct {
	UserID             uint64              `json:"user_id"`
	Role               string              `json:"role"`
	AccessibleScholars []ScholarPermission `json:"accessible_scholars"`
}

// Operation names a write path gated by the access policy.
type Operation string

const (
	OpCreateBook   Operation = "create-book"
	OpUpdateBook   Operation = "update-book"
	OpUploadFile   Operation = "upload-file"
	OpMoveFile     Operation = "move-file"
	OpGrantAccess  Operation = "grant-access"
	OpRevokeAccess Operation = "revoke-access"
)

func (o Operation) ManagesAccess() bool { return o == OpGrantAccess || o == OpRevokeAccess }
