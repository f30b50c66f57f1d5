package notification

import (
	"errors"
	"net/url"
	"strings"
)

// ErrLinkResolution is returned when notification data has neither a URL nor
// an issue key with a base URL. A click on such a notification is a no-op.
var ErrLinkResolution = errors.New("notification has no link target")

// Data is the linking data attached to a displayed notification.
type Data struct {
	URL      string `json:"url,omitempty"`
	IssueKey string `json:"issueKey,omitempty"`
	BaseURL  string `json:"baseUrl,omitempty"`
}

// IsZero reports whether d carries nothing to link to.
func (d Data) IsZero() bool {
	return strings.TrimSpace(d.URL) == "" && strings.TrimSpace(d.IssueKey) == "" && strings.TrimSpace(d.BaseURL) == ""
}

// ResolveTarget returns the URL a click should open: the explicit URL if set,
// otherwise the issue deep link when both the key and base URL are present.
func ResolveTarget(d Data) (string, error) {
	if u := strings.TrimSpace(d.URL); u != "" {
		return u, nil
	}
	key := strings.TrimSpace(d.IssueKey)
	base := strings.TrimSpace(d.BaseURL)
	if key == "" || base == "" {
		return "", ErrLinkResolution
	}
	return DeepLink(base, key), nil
}

// DeepLink builds "{baseURL}/browse/{issueKey}".
func DeepLink(baseURL, issueKey string) string {
	return strings.TrimRight(baseURL, "/") + "/browse/" + url.PathEscape(issueKey)
}

// SameSite reports whether location belongs to the same tracker as target:
// same scheme and host, and, when base is known, location lies under base's path.
func SameSite(location, target, base string) bool {
	lu, err := url.Parse(strings.TrimSpace(location))
	if err != nil || lu.Host == "" {
		return false
	}
	tu, err := url.Parse(strings.TrimSpace(target))
	if err != nil || tu.Host == "" {
		return false
	}
	if !strings.EqualFold(lu.Scheme, tu.Scheme) || !strings.EqualFold(lu.Host, tu.Host) {
		return false
	}
	if strings.TrimSpace(base) == "" {
		return true
	}
	bu, err := url.Parse(strings.TrimSpace(base))
	if err != nil || !strings.EqualFold(bu.Host, lu.Host) {
		return false
	}
	prefix := strings.TrimRight(bu.Path, "/")
	if prefix == "" {
		return true
	}
	return lu.Path == prefix || strings.HasPrefix(lu.Path, prefix+"/")
}
