package models

type PaymentMethodType string

const (
	PaymentIBAN   PaymentMethodType = "IBAN"
	PaymentPayPal PaymentMethodType = "PAYPAL"
	PaymentOther  PaymentMethodType = "Other"
)

type PaymentMethod struct {
	Type    PaymentMethodType `json:"type"`
	Tag     string            `json:"tag"`
	Address string            `json:"address"`
}

type UserInfo struct {
	DisplayName string `json:"displayname"`
	AvatarURL   string `json:"avatar_url"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
}

// GlobalAccountData is the cross-room user record. It is stored as account
// data and mirrored into the user's member event of every product room.
type GlobalAccountData struct {
	PaymentInfo map[string]PaymentMethod `json:"payment_info"`
	UserInfo    *UserInfo                `json:"user_info,omitempty"`
}
