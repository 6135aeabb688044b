package notify

import "fmt"

// PaymentRequest asks a subscriber to approve a payment.
func PaymentRequest(to, amount, link string) Message {
	return Message{
		To:      to,
		Subject: "Payment Request for Subscription",
		Body: fmt.Sprintf("Dear Subscriber,\n\nPlease approve your payment of %s to continue your subscription.\n\nClick here to approve: %s",
			amount, link),
	}
}

// PaymentReceived confirms that a payment reached the shop.
func PaymentReceived(to, amount, txHash string) Message {
	return Message{
		To:      to,
		Subject: "Payment Received",
		Body: fmt.Sprintf("Dear Customer,\n\nWe received your payment of %s.\n\nTransaction: %s\n\nThank you for your purchase.",
			amount, txHash),
	}
}
