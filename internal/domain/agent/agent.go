package agent

import (
	"errors"
	"time"
)

// Status is the approval gate a registration moves through. Stored as its
// string form; PENDING is the only initial state and nothing moves back to it.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusAccepted, StatusRejected:
		return Status(s), nil
	}
	return "", errors.New("unknown status: " + s)
}

const (
	RoleAgent = "AGENT"
	RoleAdmin = "ADMIN"
)

var (
	ErrNotFound                    = errors.New("agent not found")
	ErrDuplicateLoginID            = errors.New("login id already exists")
	ErrDuplicateEmail              = errors.New("email already exists")
	ErrDuplicateRegistrationNumber = errors.New("registration number already exists")
)

type Agent struct {
	ID                 string    `json:"id"`
	LoginID            string    `json:"loginId"`
	DisplayName        string    `json:"displayName"`
	PhoneNumber        string    `json:"phoneNumber"`
	RegistrationNumber string    `json:"registrationNumber"`
	AgencyName         string    `json:"agencyName"`
	PasswordHash       string    `json:"-"` // never expose hash in JSON
	Email              string    `json:"email"`
	Status             Status    `json:"status"`
	RejectReason       *string   `json:"rejectReason,omitempty"`
	Role               string    `json:"role"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

type CreateAgentRequest struct {
	LoginID            string `json:"loginId" binding:"required"`
	DisplayName        string `json:"displayName" binding:"required"`
	PhoneNumber        string `json:"phoneNumber" binding:"required"`
	RegistrationNumber string `json:"registrationNumber" binding:"required"`
	AgencyName         string `json:"agencyName" binding:"required"`
	Password           string `json:"password" binding:"required,min=8"`
	Email              string `json:"email" binding:"required,email"`
}
