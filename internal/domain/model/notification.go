package model

type NotificationKind string

const (
	NotifyPaymentSucceeded NotificationKind = "payment_succeeded"
	NotifyKeyReady         NotificationKind = "key_ready"
	NotifyKeyReissued      NotificationKind = "key_reissued"
	NotifyActivationFailed NotificationKind = "activation_failed"
)
