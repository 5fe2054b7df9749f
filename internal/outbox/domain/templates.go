package domain

import (
	"bytes"
	"text/template"
)

type templateText struct {
	subject string
	body    string
}

var templateTexts = map[Template]templateText{
	TemplateIdentityVerification: {
		subject: "Confirm your email",
		body:    "Use code {{.code}} to confirm {{.email}} and unlock your courses.",
	},
	TemplatePurchaseConfirmation: {
		subject: "You now have access to {{.courseTitle}}",
		body:    "Thanks for your purchase of {{.courseTitle}}. Amount: {{.amount}} {{.currency}}.",
	},
	TemplateBnplInstallmentPaid: {
		subject: "Installment received for {{.courseTitle}}",
		body:    "We received {{.amount}} {{.currency}}. Paid {{.paidCount}} of {{.installmentsCount}} installments.",
	},
	TemplateBnplCompleted: {
		subject: "{{.courseTitle}} is fully paid",
		body:    "Your installment plan for {{.courseTitle}} is complete.",
	},
	TemplateAccessRevoked: {
		subject: "Access to {{.courseTitle}} was removed",
		body:    "Access to {{.courseTitle}} was revoked after a refund or chargeback.",
	},
}

func (t Template) Valid() bool {
	_, ok := templateTexts[t]
	return ok
}

// Render produces the subject and plain text body for a template.
func Render(t Template, data map[string]any) (string, string, error) {
	text, ok := templateTexts[t]
	if !ok {
		return "", "", ErrUnknownTemplate
	}
	subject, err := execute(string(t)+".subject", text.subject, data)
	if err != nil {
		return "", "", err
	}
	body, err := execute(string(t)+".body", text.body, data)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func execute(name, text string, data map[string]any) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
