package email

import (
	"fmt"
	"html"
	"time"
)

// PasswordResetMessage builds the reset mail pointing at link.
func PasswordResetMessage(to, link string, ttl time.Duration) Message {
	minutes := int(ttl.Minutes())
	l := html.EscapeString(link)
	body := "<p>Bonjour,</p>" +
		"<p>Vous avez demandé à réinitialiser votre mot de passe.</p>" +
		fmt.Sprintf(`<p><a href="%s">Réinitialiser mon mot de passe</a></p>`, l) +
		fmt.Sprintf("<p>Ce lien expire dans %d minutes. Si vous n'êtes pas à l'origine de cette demande, ignorez ce message.</p>", minutes)

	return Message{
		To:      to,
		Subject: "Réinitialisation de votre mot de passe",
		HTML:    body,
	}
}
