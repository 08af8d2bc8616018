package dispatcher

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/casegate/casestore"
)

// Script holds the subject-facing wording of the workflow.
// Each field is a text/template source over {{.Identity}} and {{.Challenge}};
// only Reveal may also reference {{.Fields}}.
type Script struct {
	TaskFound             string `yaml:"task_found" json:"task_found"`
	TaskNotFound          string `yaml:"task_not_found" json:"task_not_found"`
	LookupFailed          string `yaml:"lookup_failed" json:"lookup_failed"`
	NoTaskLoaded          string `yaml:"no_task_loaded" json:"no_task_loaded"`
	ChallengePrompt       string `yaml:"challenge_prompt" json:"challenge_prompt"`
	VerifySuccess         string `yaml:"verify_success" json:"verify_success"`
	AlreadyVerified       string `yaml:"already_verified" json:"already_verified"`
	VerifyMismatch        string `yaml:"verify_mismatch" json:"verify_mismatch"`
	VerifyLocked          string `yaml:"verify_locked" json:"verify_locked"`
	NotVerifiedReveal     string `yaml:"not_verified_reveal" json:"not_verified_reveal"`
	NotVerifiedResolution string `yaml:"not_verified_resolution" json:"not_verified_resolution"`
	Reveal                string `yaml:"reveal" json:"reveal"`
	SessionComplete       string `yaml:"session_complete" json:"session_complete"`
}

// DefaultScript returns the suspicious-transaction wording.
func DefaultScript() Script {
	return Script{
		TaskFound:             "Found a fraud alert for {{.Identity}}. I can see a suspicious transaction on your account.",
		TaskNotFound:          "I don't see any pending fraud alerts for {{.Identity}}. You may have the wrong department.",
		LookupFailed:          "I'm having trouble reaching our case records right now. Please try again in a moment.",
		NoTaskLoaded:          "No fraud case loaded. Please ask for the customer's name first.",
		ChallengePrompt:       "For security purposes, I need to verify your identity. {{.Challenge}}",
		VerifySuccess:         "Thank you for verifying your identity. Now let me tell you about the suspicious transaction.",
		AlreadyVerified:       "Your identity has already been verified.",
		VerifyMismatch:        "I'm sorry, but that answer doesn't match our records. For your security, I cannot proceed with this call.",
		VerifyLocked:          "For your security, I cannot accept further verification attempts on this call.",
		NotVerifiedReveal:     "Customer identity must be verified before sharing transaction details.",
		NotVerifiedResolution: "Cannot process transaction confirmation. Customer must be verified first.",
		Reveal: "Here are the details of the suspicious transaction: A transaction of ${{.Fields.transaction_amount}} " +
			"at {{.Fields.transaction_name}} from {{.Fields.transaction_source}} in {{.Fields.transaction_location}} " +
			"on {{.Fields.transaction_time}} using your card ending in {{.Fields.card_ending}}.",
		SessionComplete: "This call has already been completed and the case is closed. No further changes can be made.",
	}
}

// LoadScript reads a YAML script file. Keys absent from the file keep their
// DefaultScript wording; every template is compiled before returning.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("read script %s: %w", path, err)
	}
	s := DefaultScript()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Script{}, fmt.Errorf("parse script %s: %w", path, err)
	}
	if _, err := compileScript(s); err != nil {
		return Script{}, err
	}
	return s, nil
}

// scriptView is what every template except reveal may reference. It never
// carries the expected answer or the descriptive fields.
type scriptView struct {
	Identity  string
	Challenge string
}

// revealView is rendered only by the reveal template, after the verified gate.
type revealView struct {
	Identity  string
	Challenge string
	Fields    map[string]string
}

func viewOf(rec *casestore.Record, identity string) scriptView {
	v := scriptView{Identity: identity}
	if rec != nil {
		v.Identity = rec.IdentityKey
		v.Challenge = rec.Challenge
	}
	return v
}

func revealViewOf(rec *casestore.Record) revealView {
	v := revealView{Fields: map[string]string{}}
	if rec != nil {
		v.Identity = rec.IdentityKey
		v.Challenge = rec.Challenge
		if rec.Fields != nil {
			v.Fields = rec.Fields
		}
	}
	return v
}

// compiledScript is the parsed, immutable form of a Script.
type compiledScript struct {
	taskFound, taskNotFound, lookupFailed, noTaskLoaded *template.Template
	challenge, verifySuccess, alreadyVerified           *template.Template
	verifyMismatch, verifyLocked                        *template.Template
	notVerifiedReveal, notVerifiedResolution            *template.Template
	reveal, sessionComplete                             *template.Template
}

func compileScript(s Script) (*compiledScript, error) {
	def := DefaultScript()
	var firstErr error
	compile := func(name, src, fallback string, sample any) *template.Template {
		if src == "" {
			src = fallback
		}
		tpl, err := template.New(name).Option("missingkey=zero").Parse(src)
		if err == nil {
			// 试渲染一次：非 reveal 模板引用 .Fields 等字段会在这里失败
			err = tpl.Execute(io.Discard, sample)
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("script %s: %w", name, err)
		}
		return tpl
	}
	parse := func(name, src, fallback string) *template.Template {
		return compile(name, src, fallback, scriptView{})
	}

	c := &compiledScript{
		taskFound:             parse("task_found", s.TaskFound, def.TaskFound),
		taskNotFound:          parse("task_not_found", s.TaskNotFound, def.TaskNotFound),
		lookupFailed:          parse("lookup_failed", s.LookupFailed, def.LookupFailed),
		noTaskLoaded:          parse("no_task_loaded", s.NoTaskLoaded, def.NoTaskLoaded),
		challenge:             parse("challenge_prompt", s.ChallengePrompt, def.ChallengePrompt),
		verifySuccess:         parse("verify_success", s.VerifySuccess, def.VerifySuccess),
		alreadyVerified:       parse("already_verified", s.AlreadyVerified, def.AlreadyVerified),
		verifyMismatch:        parse("verify_mismatch", s.VerifyMismatch, def.VerifyMismatch),
		verifyLocked:          parse("verify_locked", s.VerifyLocked, def.VerifyLocked),
		notVerifiedReveal:     parse("not_verified_reveal", s.NotVerifiedReveal, def.NotVerifiedReveal),
		notVerifiedResolution: parse("not_verified_resolution", s.NotVerifiedResolution, def.NotVerifiedResolution),
		reveal:                compile("reveal", s.Reveal, def.Reveal, revealView{Fields: map[string]string{}}),
		sessionComplete:       parse("session_complete", s.SessionComplete, def.SessionComplete),
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return c, nil
}

// render executes tpl and falls back to the template name on failure.
func render(tpl *template.Template, view any) string {
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, view); err != nil {
		return tpl.Name()
	}
	return buf.String()
}
