package idp

// User is the provider's user object. The same shape is delivered as the
// data of user.* webhook events.
type User struct {
	ID                    string         `json:"id"`
	FirstName             string         `json:"first_name"`
	LastName              string         `json:"last_name"`
	EmailAddresses        []EmailAddress `json:"email_addresses"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	PhoneNumbers          []PhoneNumber  `json:"phone_numbers"`
	ImageURL              string         `json:"image_url"`
	PublicMetadata        map[string]any `json:"public_metadata"`
	CreatedAt             int64          `json:"created_at"`
	UpdatedAt             int64          `json:"updated_at"`
	LastSignInAt          *int64         `json:"last_sign_in_at"`
}

type EmailAddress struct {
	ID           string       `json:"id"`
	EmailAddress string       `json:"email_address"`
	Verification Verification `json:"verification"`
}

type Verification struct {
	Status string `json:"status"`
}

type PhoneNumber struct {
	ID          string `json:"id"`
	PhoneNumber string `json:"phone_number"`
}

// PrimaryEmail returns the primary address, falling back to the first one.
func (u User) PrimaryEmail() (address string, verified bool) {
	if len(u.EmailAddresses) == 0 {
		return "", false
	}
	chosen := u.EmailAddresses[0]
	for _, e := range u.EmailAddresses {
		if u.PrimaryEmailAddressID != "" && e.ID == u.PrimaryEmailAddressID {
			chosen = e
			break
		}
	}
	return chosen.EmailAddress, chosen.Verification.Status == "verified"
}

func (u User) Phone() string {
	if len(u.PhoneNumbers) == 0 {
		return ""
	}
	return u.PhoneNumbers[0].PhoneNumber
}

// RoleClaim returns the role stored in public metadata, or "" when absent.
func (u User) RoleClaim() string {
	role, _ := u.PublicMetadata["role"].(string)
	return role
}
