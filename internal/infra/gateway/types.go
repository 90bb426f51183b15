package gateway

// PaymentIntentのstatus
const (
	StatusSucceeded             = "succeeded"
	StatusRequiresAction        = "requires_action"
	StatusRequiresConfirmation  = "requires_confirmation"
	StatusRequiresPaymentMethod = "requires_payment_method"
	StatusProcessing            = "processing"
	StatusCanceled              = "canceled"
)

// Webhookのイベント種別
const (
	EventPaymentSucceeded      = "payment_intent.succeeded"
	EventPaymentFailed         = "payment_intent.payment_failed"
	EventPaymentCanceled       = "payment_intent.canceled"
	EventPaymentRequiresAction = "payment_intent.requires_action"
)

// metadataに入れる決済試行ID
const MetadataCheckoutID = "checkout_id"

type PaymentIntent struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	NextAction       *NextAction       `json:"next_action,omitempty"`
	LastPaymentError *PaymentError     `json:"last_payment_error,omitempty"`
}

func (pi PaymentIntent) CheckoutID() string {
	return pi.Metadata[MetadataCheckoutID]
}

// 拒否理由（無ければ空）
func (pi PaymentIntent) DeclineReason() string {
	if pi.LastPaymentError == nil {
		return ""
	}
	return pi.LastPaymentError.Reason()
}

type NextAction struct {
	Type        string `json:"type"`
	RedirectURL string `json:"redirect_url"`
}

type PaymentError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

func (e PaymentError) Reason() string {
	switch {
	case e.DeclineCode != "":
		return e.DeclineCode
	case e.Code != "":
		return e.Code
	default:
		return e.Message
	}
}

type CreateIntentParams struct {
	Amount         int64
	Currency       string
	PaymentMethod  string
	CheckoutID     string
	IdempotencyKey string
}

type RefundParams struct {
	PaymentIntent  string
	Amount         int64
	Reason         string
	IdempotencyKey string
}

type Refund struct {
	ID            string `json:"id"`
	Status        string `json:"status"` // succeeded / pending / failed
	Amount        int64  `json:"amount"`
	PaymentIntent string `json:"payment_intent"`
}

type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
}

type EventData struct {
	Object PaymentIntent `json:"object"`
}

type errorEnvelope struct {
	Error *PaymentError `json:"error"`
}
