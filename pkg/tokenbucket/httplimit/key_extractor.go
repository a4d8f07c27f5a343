package httplimit

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrKeyExtractionFailed is returned when no client key can be derived from a request
	ErrKeyExtractionFailed = errors.New("failed to extract key from request")

	// ErrInvalidExtractor is returned for an unparseable key extractor string
	ErrInvalidExtractor = errors.New("invalid key extractor")
)

// KeyExtractor derives the rate limit key from an HTTP request.
// The key identifies the client (IP address, API key, user ID, ...).
type KeyExtractor func(*http.Request) (string, error)

// ExtractIP returns a KeyExtractor that uses the client's IP address from r.RemoteAddr.
func ExtractIP() KeyExtractor {
	return func(r *http.Request) (string, error) {
		return remoteIP(r)
	}
}

// ExtractIPWithProxy returns a KeyExtractor that prefers the X-Forwarded-For
// and X-Real-IP headers and falls back to r.RemoteAddr. Only use it behind a
// proxy that overwrites these headers; clients can set them freely.
func ExtractIPWithProxy() KeyExtractor {
	return func(r *http.Request) (string, error) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// The first entry is the original client
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return "ip:" + ip, nil
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return "ip:" + xri, nil
		}
		return remoteIP(r)
	}
}

func remoteIP(r *http.Request) (string, error) {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr may lack a port
		ip = r.RemoteAddr
	}
	if ip == "" {
		return "", fmt.Errorf("%w: empty IP address", ErrKeyExtractionFailed)
	}
	return "ip:" + ip, nil
}

// ExtractHeader returns a KeyExtractor that uses the value of the named header.
func ExtractHeader(name string) KeyExtractor {
	return func(r *http.Request) (string, error) {
		value := r.Header.Get(name)
		if value == "" {
			return "", fmt.Errorf("%w: header %s not found or empty", ErrKeyExtractionFailed, name)
		}
		return "header:" + name + ":" + value, nil
	}
}

// ExtractBearer returns a KeyExtractor that uses the token of an
// "Authorization: Bearer <token>" header.
func ExtractBearer() KeyExtractor {
	return func(r *http.Request) (string, error) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			return "", fmt.Errorf("%w: Authorization header not found", ErrKeyExtractionFailed)
		}
		scheme, token, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return "", fmt.Errorf("%w: invalid Authorization header format", ErrKeyExtractionFailed)
		}
		if token = strings.TrimSpace(token); token == "" {
			return "", fmt.Errorf("%w: empty bearer token", ErrKeyExtractionFailed)
		}
		return "bearer:" + token, nil
	}
}

// ExtractCookie returns a KeyExtractor that uses the value of the named cookie.
func ExtractCookie(name string) KeyExtractor {
	return func(r *http.Request) (string, error) {
		cookie, err := r.Cookie(name)
		if err != nil {
			return "", fmt.Errorf("%w: cookie %s not found: %v", ErrKeyExtractionFailed, name, err)
		}
		if cookie.Value == "" {
			return "", fmt.Errorf("%w: cookie %s has empty value", ErrKeyExtractionFailed, name)
		}
		return "cookie:" + name + ":" + cookie.Value, nil
	}
}

// ExtractStatic returns a KeyExtractor that always returns key, so every
// client shares one bucket.
func ExtractStatic(key string) KeyExtractor {
	return func(*http.Request) (string, error) {
		if key == "" {
			return "", fmt.Errorf("%w: static key is empty", ErrKeyExtractionFailed)
		}
		return key, nil
	}
}

// ExtractComposite returns a KeyExtractor that tries extractors in order and
// returns the first key found.
//
//	ExtractComposite(
//	    ExtractHeader("X-API-Key"),
//	    ExtractIPWithProxy(), // fallback
//	)
func ExtractComposite(extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) (string, error) {
		if len(extractors) == 0 {
			return "", fmt.Errorf("%w: no extractors provided", ErrKeyExtractionFailed)
		}
		var errs []error
		for _, extract := range extractors {
			key, err := extract(r)
			if err == nil && key != "" {
				return key, nil
			}
			if err != nil {
				errs = append(errs, err)
			}
		}
		return "", fmt.Errorf("%w: all extractors failed: %w", ErrKeyExtractionFailed, errors.Join(errs...))
	}
}

// ParseKeyExtractor creates a KeyExtractor from a configuration string:
//   - "ip"                 ExtractIP()
//   - "ip-proxy"           ExtractIPWithProxy()
//   - "header:X-API-Key"   ExtractHeader("X-API-Key")
//   - "bearer"             ExtractBearer()
//   - "cookie:session_id"  ExtractCookie("session_id")
//   - "static:global"      ExtractStatic("global")
func ParseKeyExtractor(s string) (KeyExtractor, error) {
	kind, arg, hasArg := strings.Cut(s, ":")

	needArg := func() error {
		if !hasArg || arg == "" {
			return fmt.Errorf("%w: %s extractor requires format '%s:value'", ErrInvalidExtractor, kind, kind)
		}
		return nil
	}

	switch kind {
	case "ip":
		return ExtractIP(), nil
	case "ip-proxy":
		return ExtractIPWithProxy(), nil
	case "bearer":
		return ExtractBearer(), nil
	case "header":
		if err := needArg(); err != nil {
			return nil, err
		}
		return ExtractHeader(arg), nil
	case "cookie":
		if err := needArg(); err != nil {
			return nil, err
		}
		return ExtractCookie(arg), nil
	case "static":
		if err := needArg(); err != nil {
			return nil, err
		}
		return ExtractStatic(arg), nil
	default:
		return nil, fmt.Errorf("%w: unknown key extractor type: %q", ErrInvalidExtractor, kind)
	}
}
