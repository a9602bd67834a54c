package report

import (
	"fmt"
	"io/ioutil"
	"os"
	"strings"

	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"

	"github.com/neodata/fetchd/fetch"
)

// Emailer sends failure information to a list of addresses via the
// local mail relay. Delivery is best effort: a downed relay is logged,
// not fatal.
type Emailer struct {
	Addresses []string

	// Overridable for tests.
	SMTPAddr string
}

// NewEmailer creates an emailer delivering through localhost.
func NewEmailer(addresses []string) *Emailer {
	return &Emailer{
		Addresses: addresses,
		SMTPAddr:  "localhost:25",
	}
}

// OnFileFailure mails the summary and body of a single failed fetch.
func (e *Emailer) OnFileFailure(processName, fileURI, summary, body string) {
	e.sendMail(fmt.Sprintf("uri: %s\n%s\n\n%s", fileURI, summary, body), processName)
}

// OnProcessFailure mails the log of a run that exited badly. A negative
// exit code means it was killed via a signal, probably by the user, and
// is not worth emailing.
func (e *Emailer) OnProcessFailure(name, logFile string, exitCode int) {
	if exitCode < 0 {
		return
	}
	body, err := ioutil.ReadFile(logFile)
	if err != nil {
		logrus.WithError(err).Errorf("Could not read log %q for failure mail", logFile)
		return
	}
	e.sendMail(string(body), name)
}

func (e *Emailer) sendMail(bodyText, processName string) {
	hostname := fetch.FQDN()
	from := fmt.Sprintf("fetch-%d@%s", os.Getpid(), hostname)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(e.Addresses, ", "))
	fmt.Fprintf(&msg, "Subject: %s failure on %s\r\n", processName, hostname)
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(bodyText)

	err := smtp.SendMail(e.SMTPAddr, nil, from, e.Addresses, strings.NewReader(msg.String()))
	if err != nil {
		logrus.WithError(err).Errorf("Could not send failure mail for %q", processName)
	}
}
