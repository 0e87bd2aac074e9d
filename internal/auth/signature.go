package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// paymentSeparator joins order and payment IDs in the signed payment string
const paymentSeparator = "|"

// SignPayment returns the lowercase hex HMAC-SHA256 of "orderID|paymentID"
func SignPayment(orderID, paymentID, secret string) string {
	return sign([]byte(orderID+paymentSeparator+paymentID), secret)
}

// SignWebhook returns the lowercase hex HMAC-SHA256 of the raw webhook body
func SignWebhook(payload []byte, secret string) string {
	return sign(payload, secret)
}

// VerifyPaymentSignature reports whether signature authenticates the order/payment pair.
// Empty inputs and malformed signatures are rejected.
func VerifyPaymentSignature(orderID, paymentID, signature, secret string) bool {
	if orderID == "" || paymentID == "" {
		return false
	}
	return verify([]byte(orderID+paymentSeparator+paymentID), signature, secret)
}

// VerifyWebhookSignature reports whether signature authenticates the raw webhook body
func VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	return verify(payload, signature, secret)
}

func sign(message []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// verify compares in constant time. Any failure, including a panic, yields false.
func verify(message []byte, signature, secret string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if secret == "" || signature == "" {
		return false
	}
	given, err := hex.DecodeString(signature)
	if err != nil || len(given) != sha256.Size {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hmac.Equal(mac.Sum(nil), given)
}
