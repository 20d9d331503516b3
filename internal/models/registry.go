package models

// AllModels returns every model registered for migration. New tables only
// need to be added here.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Cause{},
		&UserCause{},
		&Charity{},
		&BusinessMapping{},
		&Transaction{},
		&Donation{},
		&DonationBatch{},
		&WebhookEvent{},
	}
}
