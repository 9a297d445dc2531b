// internal/provision/seed.go
//
// Reference data every new tenant starts with.
//
// Context
// -------
// The sets below are fixed and keyed by a logical key (role slug,
// department code, designation code).  Seeding upserts on that key, so
// running onboarding twice for the same tenant leaves exactly one row per
// key and refreshes display names in place.
package provision

import (
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

// Role is one system role.
type Role struct {
	Slug        string
	Name        string
	Description string
}

// Department is one default department.
type Department struct {
	Code string
	Name string
}

// Designation is one default job title.
type Designation struct {
	Code  string
	Title string
	Level int
}

// AdminRole is the role assigned to the seeded administrator.
const AdminRole = "admin"

// AdminDepartment is the department assigned to the seeded administrator.
const AdminDepartment = "ADMIN"

// DefaultRoles, DefaultDepartments, and DefaultDesignations are seeded into
// every tenant.
var (
	DefaultRoles = []Role{
		{Slug: AdminRole, Name: "Administrator", Description: "Full access to every module."},
		{Slug: "hr_manager", Name: "HR Manager", Description: "Manages employees, leave, and payroll."},
		{Slug: "project_manager", Name: "Project Manager", Description: "Manages projects and assignments."},
		{Slug: "employee", Name: "Employee", Description: "Self-service access."},
	}

	DefaultDepartments = []Department{
		{Code: AdminDepartment, Name: "Administration"},
		{Code: "HR", Name: "Human Resources"},
		{Code: "ENG", Name: "Engineering"},
		{Code: "FIN", Name: "Finance"},
		{Code: "OPS", Name: "Operations"},
	}

	DefaultDesignations = []Designation{
		{Code: "DIR", Title: "Director", Level: 1},
		{Code: "MGR", Title: "Manager", Level: 2},
		{Code: "LEAD", Title: "Team Lead", Level: 3},
		{Code: "SR", Title: "Senior Associate", Level: 4},
		{Code: "ASSOC", Title: "Associate", Level: 5},
	}
)

// SeedData is the caller-supplied administrator for a new tenant.
type SeedData struct {
	AdminName    string `validate:"required,max=255"`
	AdminEmail   string `validate:"required,email,max=255"`
	PasswordHash string `validate:"required"`
}

var validate = validator.New()

// Validate checks required fields and the email format.
func (s SeedData) Validate() error { return validate.Struct(s) }

// HashPassword returns a bcrypt hash suitable for SeedData.PasswordHash.
func HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
