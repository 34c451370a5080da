// Package subtasks contains the concrete borrow subtasks: the pluggable
// units of work that each execute one acquisition path element.
package subtasks

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/openshelf/lending/internal/borrow"
	"github.com/openshelf/lending/internal/profiles"
)

// Problem document types servers use to explain loan failures.
const (
	problemTypeLoanAlreadyExists = "http://librarysimplified.org/terms/problem/loan-already-exists"
	problemTypeLoanLimitReached  = "http://librarysimplified.org/terms/problem/loan-limit-reached"
)

// problemDocument is an RFC 7807 style error body.
type problemDocument struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

func (p *problemDocument) attributes() map[string]string {
	attributes := map[string]string{}
	if p.Type != "" {
		attributes["Problem Type"] = p.Type
	}
	if p.Title != "" {
		attributes["Problem Title"] = p.Title
	}
	if p.Detail != "" {
		attributes["Problem Detail"] = p.Detail
	}
	return attributes
}

// parseProblemDocument decodes a problem document from an error response, if
// the server sent one.
func parseProblemDocument(response *http.Response) *problemDocument {
	contentType := response.Header.Get("Content-Type")
	if !strings.Contains(contentType, "problem+json") {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return nil
	}
	var problem problemDocument
	if err := json.Unmarshal(body, &problem); err != nil {
		return nil
	}
	return &problem
}

// applyCredentials attaches the account's credentials to an outgoing
// request. SAML accounts authenticate through cookies established by the
// external login flow, which the shared HTTP client's cookie jar carries.
func applyCredentials(request *http.Request, account *profiles.Account) {
	if account == nil || account.Credentials == nil {
		return
	}
	if account.Credentials.Kind == profiles.CredentialsBasic {
		request.SetBasicAuth(account.Credentials.Username, account.Credentials.Password)
	}
}

// recordHTTPError records a failed response on the current step and returns
// any problem document the server attached.
func recordHTTPError(ctx *borrow.Context, response *http.Response) *problemDocument {
	problem := parseProblemDocument(response)
	if problem != nil {
		ctx.Recorder.AddAttributes(problem.attributes())
	}
	ctx.Recorder.CurrentStepFailed(
		"HTTP request failed: "+response.Status,
		borrow.CodeHTTPRequestFailed, nil)
	return problem
}

func isHTML(contentType string) bool {
	base, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(strings.ToLower(base)) == "text/html"
}
