package types

type RequestCreateUser struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	WhatsAppNumber string `json:"whatsapp_number"`
	Email          string `json:"email"`
	Password       string `json:"password"`
}

type RequestRegisterInstance struct {
	UserID int64 `json:"user_id"`
}

// InstanceCredentials is the auth pair every messaging request must carry.
// Both fields together identify and authorize one instance.
type InstanceCredentials struct {
	InstanceID  string `json:"instance_id"`
	AccessToken string `json:"access_token"`
}

type RequestSendText struct {
	InstanceCredentials
	Number  string `json:"number"`
	Message string `json:"message"`
}

type RequestSendBulkText struct {
	InstanceCredentials
	Numbers []string `json:"numbers"`
	Message string   `json:"message"`
}

type RequestSendMedia struct {
	InstanceCredentials
	Number   string `json:"number"`
	MediaURL string `json:"media_url"`
	Caption  string `json:"caption"`
	FileName string `json:"file_name"`
}

type RequestUserProfile struct {
	InstanceCredentials
	Number string `json:"number"`
}

type RequestLogoutInstance struct {
	InstanceCredentials
}
