package domain

type AccountType string

const (
	AccountTypeChecking AccountType = "Checking"
	AccountTypeSavings  AccountType = "Savings"
)

// AccountRecord is a donor's credential file in the vault.
// Account holds the base64 RSA ciphertext of a BankAccount.
type AccountRecord struct {
	DonorID   int64  `json:"donor_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Account   string `json:"account"`
}

// BankAccount is the decrypted account payload
type BankAccount struct {
	AccountNumber string      `json:"account_number"`
	RoutingNumber string      `json:"routing_number"`
	AccountType   AccountType `json:"account_type"`
}
