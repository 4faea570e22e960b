package browser

import (
	"net/url"
	"strings"

	"github.com/go-rod/rod/lib/proto"
	"github.com/playwright-community/playwright-go"

	"profile-launcher/internal/core"
)

// cookieMatches reports whether c would be sent to rawURL
func cookieMatches(c core.Cookie, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	domain := strings.ToLower(strings.TrimPrefix(c.Domain, "."))
	if host != domain && !strings.HasSuffix(host, "."+domain) {
		return false
	}
	if c.Secure && u.Scheme != "https" {
		return false
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	return c.Path == "" || strings.HasPrefix(p, c.Path)
}

func filterCookies(cookies []core.Cookie, urls []string) []core.Cookie {
	if len(urls) == 0 {
		return cookies
	}
	var out []core.Cookie
	for _, c := range cookies {
		for _, u := range urls {
			if cookieMatches(c, u) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func fromProtoCookies(in []*proto.NetworkCookie) []core.Cookie {
	out := make([]core.Cookie, 0, len(in))
	for _, c := range in {
		cookie := core.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		}
		if !c.Session {
			cookie.Expires = float64(c.Expires)
		}
		out = append(out, cookie)
	}
	return out
}

func toProtoCookies(in []core.Cookie) []*proto.NetworkCookieParam {
	out := make([]*proto.NetworkCookieParam, 0, len(in))
	for _, c := range in {
		out = append(out, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
			Expires:  proto.TimeSinceEpoch(c.Expires),
		})
	}
	return out
}

func fromPlaywrightCookies(in []playwright.Cookie) []core.Cookie {
	out := make([]core.Cookie, 0, len(in))
	for _, c := range in {
		cookie := core.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			cookie.Expires = c.Expires
		}
		if c.SameSite != nil {
			cookie.SameSite = string(*c.SameSite)
		}
		out = append(out, cookie)
	}
	return out
}

func toPlaywrightCookies(in []core.Cookie) []playwright.OptionalCookie {
	out := make([]playwright.OptionalCookie, 0, len(in))
	for _, c := range in {
		path := c.Path
		if path == "" {
			path = "/"
		}
		cookie := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(path),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		}
		if c.Expires > 0 {
			cookie.Expires = playwright.Float(c.Expires)
		}
		switch strings.ToLower(c.SameSite) {
		case "strict":
			cookie.SameSite = playwright.SameSiteAttributeStrict
		case "lax":
			cookie.SameSite = playwright.SameSiteAttributeLax
		case "none":
			cookie.SameSite = playwright.SameSiteAttributeNone
		}
		out = append(out, cookie)
	}
	return out
}
