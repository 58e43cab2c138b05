package models

// All returns every model managed by AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Setting{},
		&WithdrawalRequest{},
		&SoldCredential{},
		&SupportTicket{},
		&ReferralTransaction{},
	}
}
