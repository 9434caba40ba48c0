package customer

import (
	"errors"
	"time"
)

var (
	// ErrCustomerExists is returned when the username is already taken.
	ErrCustomerExists = errors.New("customer already exists")
	// ErrCustomerNotFound is returned when no customer matches the lookup.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrInvalidCredentials hides whether the username or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrInvalidInput rejects registrations with a bad username or password.
	ErrInvalidInput = errors.New("invalid customer input")
)

// Customer is an account holder. Admins act on every customer's orders.
type Customer struct {
	ID           string
	Username     string
	PasswordHash []byte
	Admin        bool
	CreatedAt    time.Time
}

// Registration request structure.
type Registration struct {
	Username string
	Password string
	Admin    bool
}
