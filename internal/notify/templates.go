package notify

import (
	"fmt"
	"strings"
)

const defaultName = "Valued Customer"

const signature = "Best regards,\nThe ETIAS Assist Team"

// Message is a rendered subject and body.
type Message struct {
	Subject string
	Content string
}

func greeting(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultName
	}
	return "Dear " + name + ","
}

// ApplicationStarted welcomes a user who opened a new application.
func ApplicationStarted(name string) Message {
	return Message{
		Subject: "Your ETIAS Application Has Been Started",
		Content: greeting(name) + `

Thank you for starting your ETIAS application with us. We're here to help you prepare all the necessary information before submitting to the official EU website.

Next steps:
1. Complete the eligibility check
2. Fill in your personal and travel details
3. Review and validate your information
4. Complete payment for our assistance service
5. Submit your application on the official EU ETIAS website

` + signature,
	}
}

// PaymentReceived confirms the service fee and points at the official portal.
func PaymentReceived(name, applicationID string) Message {
	return Message{
		Subject: "Payment Confirmed - Your ETIAS Application is Ready",
		Content: greeting(name) + fmt.Sprintf(`

Great news! Your payment has been confirmed and your ETIAS application (ID: %s) is now ready to submit.

What happens next:
1. Click the "Submit to Official EU Website" button in your dashboard
2. You'll be redirected to the official EU ETIAS portal
3. Your prepared information will help you complete the official form quickly
4. Pay the official EU ETIAS fee (€7)
5. Receive your authorization via email

Remember: We've prepared your application, but you must submit it yourself on the official EU website.

`, applicationID) + signature,
	}
}

// PaymentFailed asks the user to retry the checkout.
func PaymentFailed(name string) Message {
	return Message{
		Subject: "Payment Failed - Action Required",
		Content: greeting(name) + `

Your payment could not be processed. Please try again or use a different payment method.

Your application progress has been saved.

` + signature,
	}
}

// ApplicationReady reminds the user what the official submission involves.
func ApplicationReady(name string) Message {
	return Message{
		Subject: "Your ETIAS Application is Ready for Submission",
		Content: greeting(name) + `

Your ETIAS application has been fully prepared and validated. You can now proceed to submit it on the official EU ETIAS website.

Important reminders:
- Have your passport ready for the official submission
- The official EU ETIAS fee is €7 (separate from our service fee)
- Processing typically takes minutes, but can take up to 4 days
- Your ETIAS authorization is valid for 3 years

Click the "Submit Now" button in your dashboard to proceed.

` + signature,
	}
}

// AdminAlert is an operator-facing notice.
func AdminAlert(kind, details string) Message {
	return Message{
		Subject: "[Admin Alert] " + kind,
		Content: fmt.Sprintf("Admin Alert: %s\n\nDetails:\n%s\n\nThis is an automated notification from the ETIAS Assist platform.", kind, details),
	}
}
