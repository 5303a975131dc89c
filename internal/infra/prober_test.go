package infra

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func fakeResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

func TestWebPresence(t *testing.T) {
	longBody := strings.Repeat("real content ", 30)

	tests := []struct {
		name string
		doer doerFunc
		want WebStatus
	}{
		{
			name: "active site",
			doer: func(req *http.Request) (*http.Response, error) {
				return fakeResponse(req, http.StatusOK, "<html>"+longBody+"</html>"), nil
			},
			want: WebActive,
		},
		{
			name: "parking page",
			doer: func(req *http.Request) (*http.Response, error) {
				return fakeResponse(req, http.StatusOK, "Great news! Buy this domain today."), nil
			},
			want: WebParking,
		},
		{
			name: "thin page is not active",
			doer: func(req *http.Request) (*http.Response, error) {
				return fakeResponse(req, http.StatusOK, "hi"), nil
			},
			want: WebNone,
		},
		{
			name: "server error falls back to second scheme",
			doer: func(req *http.Request) (*http.Response, error) {
				if req.URL.Scheme == "https" {
					return fakeResponse(req, http.StatusBadGateway, "oops"), nil
				}
				return fakeResponse(req, http.StatusOK, longBody), nil
			},
			want: WebActive,
		},
		{
			name: "not found is not active",
			doer: func(req *http.Request) (*http.Response, error) {
				return fakeResponse(req, http.StatusNotFound, longBody), nil
			},
			want: WebNone,
		},
		{
			name: "unreachable host",
			doer: func(req *http.Request) (*http.Response, error) {
				return nil, errors.New("connection refused")
			},
			want: WebNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProber(WithWebClient(tt.doer))
			assert.Equal(t, tt.want, p.webPresence(context.Background(), "example.org"))
		})
	}
}

func TestProbeSignals(t *testing.T) {
	reg := time.Now().AddDate(-3, 0, 0).UTC().Format(time.RFC3339)
	rdapBody := `{"events":[{"eventAction":"registration","eventDate":"` + reg + `"}]}`

	p := NewProber(
		WithWebClient(doerFunc(func(req *http.Request) (*http.Response, error) {
			return fakeResponse(req, http.StatusOK, strings.Repeat("x", 300)), nil
		})),
		WithRDAPClient(doerFunc(func(req *http.Request) (*http.Response, error) {
			assert.Contains(t, req.URL.String(), "acme.example")
			return fakeResponse(req, http.StatusOK, rdapBody), nil
		})),
		WithLookupTXT(func(_ context.Context, name string) ([]string, error) {
			if strings.HasPrefix(name, "_dmarc.") {
				return []string{"v=DMARC1; p=reject"}, nil
			}
			return []string{"google-site-verification=abc", "v=spf1 include:_spf.example.com ~all"}, nil
		}),
		WithTLSDialer(func(context.Context, string) error { return nil }),
	)

	s := p.Probe(context.Background(), "acme.example")

	assert.Equal(t, "acme.example", s.Domain)
	assert.True(t, s.SPF)
	assert.True(t, s.DMARC)
	assert.True(t, s.HTTPS)
	assert.Equal(t, WebActive, s.WebStatus)
	require.NotNil(t, s.AgeDays)
	assert.InDelta(t, 3*365, *s.AgeDays, 2)
}

func TestProbeDegradesToZeroSignals(t *testing.T) {
	p := NewProber(
		WithWebClient(doerFunc(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("no route to host")
		})),
		WithRDAPClient(doerFunc(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("no route to host")
		})),
		WithLookupTXT(func(context.Context, string) ([]string, error) {
			return nil, errors.New("servfail")
		}),
		WithTLSDialer(func(context.Context, string) error { return errors.New("handshake failed") }),
	)

	s := p.Probe(context.Background(), "ghost.example")

	assert.Nil(t, s.AgeDays)
	assert.False(t, s.SPF)
	assert.False(t, s.DMARC)
	assert.False(t, s.HTTPS)
	assert.Equal(t, WebNone, s.WebStatus)
}

func TestDomainAge(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		p := NewProber(WithRDAPClient(doerFunc(func(req *http.Request) (*http.Response, error) {
			return fakeResponse(req, http.StatusNotFound, `{"errorCode":404}`), nil
		})))
		assert.Nil(t, p.domainAge(context.Background(), "ghost.example"))
	})

	t.Run("no registration event", func(t *testing.T) {
		p := NewProber(WithRDAPClient(doerFunc(func(req *http.Request) (*http.Response, error) {
			return fakeResponse(req, http.StatusOK, `{"events":[{"eventAction":"last changed","eventDate":"2020-01-01T00:00:00Z"}]}`), nil
		})))
		assert.Nil(t, p.domainAge(context.Background(), "acme.example"))
	})

	t.Run("malformed body", func(t *testing.T) {
		p := NewProber(WithRDAPClient(doerFunc(func(req *http.Request) (*http.Response, error) {
			return fakeResponse(req, http.StatusOK, "<html>not json</html>"), nil
		})))
		assert.Nil(t, p.domainAge(context.Background(), "acme.example"))
	})
}
