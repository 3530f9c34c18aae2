package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedPayload is returned when a release webhook lacks a field the
// announcement needs. Nothing has been sent when it is returned.
var ErrMalformedPayload = errors.New("malformed payload")

// Asset is one downloadable file attached to a release.
type Asset struct {
	Name        string
	DownloadURL string
	Size        int64
}

// ReleaseEvent is the validated view of a "release" webhook body.
type ReleaseEvent struct {
	Action       string
	Owner        string
	RepoFullName string
	TagName      string
	ReleaseURL   string
	AuthorLogin  string
	Title        string
	Assets       []Asset
}

// payload mirrors the subset of the GitHub release event we read. Pointers
// distinguish absent keys from empty values.
type payload struct {
	Action     *string `json:"action"`
	Repository *struct {
		FullName *string `json:"full_name"`
		Owner    *struct {
			Login *string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	Release *struct {
		TagName *string `json:"tag_name"`
		HTMLURL *string `json:"html_url"`
		Name    *string `json:"name"`
		Author  *struct {
			Login *string `json:"login"`
		} `json:"author"`
		Assets []payloadAsset `json:"assets"`
	} `json:"release"`
}

type payloadAsset struct {
	Name               *string `json:"name"`
	BrowserDownloadURL *string `json:"browser_download_url"`
	Size               *int64  `json:"size"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}

// decodePayload parses body and extracts the repository owner, the one field
// needed before the event can be routed at all.
func decodePayload(body []byte) (*payload, string, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, "", malformed("invalid JSON: %v", err)
	}
	if p.Repository == nil || p.Repository.Owner == nil || p.Repository.Owner.Login == nil {
		return nil, "", malformed("repository.owner.login missing")
	}
	return &p, *p.Repository.Owner.Login, nil
}

func (p *payload) action() string {
	if p.Action == nil {
		return ""
	}
	return *p.Action
}

// event validates the remaining fields of a published release.
func (p *payload) event() (ReleaseEvent, error) {
	ev := ReleaseEvent{
		Action: p.action(),
		Owner:  *p.Repository.Owner.Login,
	}
	if p.Repository.FullName == nil {
		return ReleaseEvent{}, malformed("repository.full_name missing")
	}
	ev.RepoFullName = *p.Repository.FullName

	r := p.Release
	if r == nil {
		return ReleaseEvent{}, malformed("release missing")
	}
	switch {
	case r.TagName == nil:
		return ReleaseEvent{}, malformed("release.tag_name missing")
	case r.HTMLURL == nil:
		return ReleaseEvent{}, malformed("release.html_url missing")
	case r.Author == nil || r.Author.Login == nil:
		return ReleaseEvent{}, malformed("release.author.login missing")
	}
	ev.TagName = *r.TagName
	ev.ReleaseURL = *r.HTMLURL
	ev.AuthorLogin = *r.Author.Login
	if r.Name != nil {
		ev.Title = *r.Name
	}

	ev.Assets = make([]Asset, 0, len(r.Assets))
	for i, a := range r.Assets {
		switch {
		case a.Name == nil:
			return ReleaseEvent{}, malformed("release.assets[%d].name missing", i)
		case a.BrowserDownloadURL == nil:
			return ReleaseEvent{}, malformed("release.assets[%d].browser_download_url missing", i)
		case a.Size == nil:
			return ReleaseEvent{}, malformed("release.assets[%d].size missing", i)
		}
		ev.Assets = append(ev.Assets, Asset{
			Name:        *a.Name,
			DownloadURL: *a.BrowserDownloadURL,
			Size:        *a.Size,
		})
	}
	return ev, nil
}
