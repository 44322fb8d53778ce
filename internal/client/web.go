package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultBaseURL is the public SolarEdge monitoring portal
	DefaultBaseURL = "https://monitoring.solaredge.com"

	loginPath      = "solaredge-apigw/api/login"
	systemDataPath = "solaredge-web/p/publicSystemData"

	// lastMeasurementDate is reported like "Fri Apr 22 12:58:17 GMT 2022"
	measurementLayout = "Mon Jan 02 15:04:05 GMT 2006"

	userAgent = "solaredge-optimizer-exporter"
)

// WebConfig holds what is needed to talk to the monitoring portal
type WebConfig struct {
	BaseURL  string
	SiteID   string
	Username string
	Password string
	Timeout  time.Duration
}

// WebClient talks to the SolarEdge monitoring portal over HTTPS
type WebClient struct {
	client   *http.Client
	baseURL  string
	siteID   string
	username string
	password string
	logger   *slog.Logger

	mu       sync.Mutex
	loggedIn bool
}

type userAgentTransport struct {
	transport http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", userAgent)
	return t.transport.RoundTrip(req)
}

// NewWebClient creates a new portal client with its own cookie session
func NewWebClient(cfg WebConfig, logger *slog.Logger) (*WebClient, error) {
	if cfg.SiteID == "" {
		return nil, errors.New("missing site id")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("missing username or password")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &WebClient{
		client: &http.Client{
			Transport: &userAgentTransport{transport: http.DefaultTransport},
			Jar:       jar,
			Timeout:   cfg.Timeout,
		},
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		siteID:   cfg.SiteID,
		username: cfg.Username,
		password: cfg.Password,
		logger:   logger,
	}, nil
}

// flexString accepts both JSON strings and numbers
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type layoutNode struct {
	Data struct {
		ID           flexString `json:"id"`
		SerialNumber string     `json:"serialNumber"`
		Name         string     `json:"name"`
		DisplayName  string     `json:"displayName"`
		Type         string     `json:"type"`
	} `json:"data"`
	Children []layoutNode `json:"children"`
}

type layoutResponse struct {
	SiteID      flexString `json:"siteId"`
	LogicalTree layoutNode `json:"logicalTree"`
}

// GetSite retrieves the logical layout (inverters, strings, optimizers)
func (c *WebClient) GetSite(ctx context.Context) (*Site, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.sitePath("layout/logical"), nil)
	if err != nil {
		return nil, &FetchError{Op: "get site layout", Err: err}
	}
	req.SetBasicAuth(c.username, c.password)

	var res layoutResponse
	if err := c.do(req, &res); err != nil {
		return nil, &FetchError{Op: "get site layout", Err: err}
	}

	site := &Site{ID: c.siteID}
	for _, invNode := range res.LogicalTree.Children {
		inv := Inverter{
			ID:           string(invNode.Data.ID),
			SerialNumber: invNode.Data.SerialNumber,
			Name:         invNode.Data.Name,
		}
		for _, strNode := range invNode.Children {
			str := String{
				ID:   string(strNode.Data.ID),
				Name: strNode.Data.Name,
			}
			for _, optNode := range strNode.Children {
				str.Optimizers = append(str.Optimizers, Optimizer{
					ID:           string(optNode.Data.ID),
					SerialNumber: optNode.Data.SerialNumber,
					Name:         optNode.Data.Name,
					DisplayName:  optNode.Data.DisplayName,
				})
			}
			inv.Strings = append(inv.Strings, str)
		}
		site.Inverters = append(site.Inverters, inv)
	}

	c.logger.Debug("Fetched site layout",
		"site", c.siteID,
		"inverters", len(site.Inverters),
		"optimizers", len(site.Optimizers()))

	return site, nil
}

type energyEntry struct {
	UnscaledEnergy json.Number `json:"unscaledEnergy"`
}

// GetLifetimeEnergy retrieves the lifetime energy of every optimizer
func (c *WebClient) GetLifetimeEnergy(ctx context.Context) (LifetimeEnergy, error) {
	params := url.Values{}
	params.Set("timeUnit", "ALL")
	req, err := c.newRequest(ctx, http.MethodPost, c.sitePath("layout/energy"), params)
	if err != nil {
		return nil, &FetchError{Op: "get lifetime energy", Err: err}
	}
	req.SetBasicAuth(c.username, c.password)

	var res map[string]energyEntry
	if err := c.do(req, &res); err != nil {
		return nil, &FetchError{Op: "get lifetime energy", Err: err}
	}

	energy := make(LifetimeEnergy, len(res))
	for id, entry := range res {
		if entry.UnscaledEnergy == "" {
			continue
		}
		v, err := entry.UnscaledEnergy.Float64()
		if err != nil {
			return nil, &FetchError{Op: "get lifetime energy", Err: fmt.Errorf("optimizer %s: %w", id, err)}
		}
		energy[id] = v
	}
	return energy, nil
}

type systemDataResponse struct {
	SerialNumber        string            `json:"serialNumber"`
	Description         string            `json:"description"`
	Model               string            `json:"model"`
	Manufacturer        string            `json:"manufacturer"`
	LastMeasurementDate string            `json:"lastMeasurementDate"`
	Measurements        map[string]string `json:"measurements"`
}

// GetReading retrieves the latest measurement of one optimizer
func (c *WebClient) GetReading(ctx context.Context, optimizerID string) (*Reading, error) {
	op := "get reading " + optimizerID

	if err := c.ensureLogin(ctx); err != nil {
		return nil, &FetchError{Op: op, Err: err}
	}

	params := url.Values{}
	params.Set("reporterId", optimizerID)
	params.Set("type", "panel")
	params.Set("activeTab", "0")
	params.Set("fieldId", c.siteID)
	params.Set("isPublic", "false")
	params.Set("locale", "en_US")

	var res systemDataResponse
	// the session may have expired, so allow one fresh login
	for i := 0; i < 2; i++ {
		req, err := c.newRequest(ctx, http.MethodGet, systemDataPath, params)
		if err != nil {
			return nil, &FetchError{Op: op, Err: err}
		}
		c.setCSRFHeader(req)

		err = c.do(req, &res)
		if err == nil {
			break
		}
		if !sessionExpired(err) {
			return nil, &FetchError{Op: op, Err: err}
		}

		// drop the session so the next call logs in even if this retry fails
		c.mu.Lock()
		c.loggedIn = false
		c.mu.Unlock()
		if i > 0 {
			return nil, &FetchError{Op: op, Err: err}
		}

		c.logger.Debug("SolarEdge session expired, logging in again", "error", err)
		if err := c.ensureLogin(ctx); err != nil {
			return nil, &FetchError{Op: op, Err: err}
		}
	}

	reading, err := parseSystemData(&res)
	if err != nil {
		return nil, &FetchError{Op: op, Err: err}
	}
	return reading, nil
}

func parseSystemData(res *systemDataResponse) (*Reading, error) {
	last, err := time.Parse(measurementLayout, res.LastMeasurementDate)
	if err != nil {
		return nil, fmt.Errorf("invalid lastMeasurementDate %q: %w", res.LastMeasurementDate, err)
	}

	r := &Reading{
		Model:           res.Model,
		Manufacturer:    res.Manufacturer,
		LastMeasurement: last,
	}
	if r.Model == "" {
		r.Model = res.Description
	}

	fields := []struct {
		key string
		dst *float64
	}{
		{"Power [W]", &r.Power},
		{"Current [A]", &r.Current},
		{"Voltage [V]", &r.Voltage},
		{"Optimizer Voltage [V]", &r.OptimizerVoltage},
	}
	for _, f := range fields {
		v, err := parseMeasurement(res.Measurements[f.key])
		if err != nil {
			return nil, fmt.Errorf("invalid %q: %w", f.key, err)
		}
		*f.dst = v
	}
	return r, nil
}

// parseMeasurement accepts "1.5", "1,5" and "" (treated as 0)
func parseMeasurement(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}

func (c *WebClient) ensureLogin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loggedIn {
		return nil
	}

	data := url.Values{}
	data.Set("j_username", c.username)
	data.Set("j_password", c.password)

	u, err := c.resolve(loginPath)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if err := c.do(req, nil); err != nil {
		c.logger.Error("SolarEdge login failed", "error", err)
		return fmt.Errorf("login failed: %w", err)
	}
	c.logger.Debug("SolarEdge login success", "username", c.username)
	c.loggedIn = true
	return nil
}

func (c *WebClient) setCSRFHeader(req *http.Request) {
	if c.client.Jar == nil {
		return
	}
	for _, cookie := range c.client.Jar.Cookies(req.URL) {
		if cookie.Name == "CSRF-TOKEN" {
			req.Header.Set("X-CSRF-TOKEN", cookie.Value)
			return
		}
	}
}

func (c *WebClient) sitePath(endpoint string) string {
	return "solaredge-apigw/api/sites/" + url.PathEscape(c.siteID) + "/" + endpoint
}

func (c *WebClient) resolve(endpoint string) (*url.URL, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (c *WebClient) newRequest(ctx context.Context, method, endpoint string, params url.Values) (*http.Request, error) {
	u, err := c.resolve(endpoint)
	if err != nil {
		return nil, err
	}
	u.RawQuery = params.Encode()
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d", e.code)
}

func (e *statusError) unauthorized() bool {
	return e.code == http.StatusUnauthorized || e.code == http.StatusForbidden
}

// decodeError means the portal answered 2xx with something that is not the
// expected JSON, typically the HTML login page after a redirect
type decodeError struct {
	err error
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("failed to decode response: %v", e.err)
}

func (e *decodeError) Unwrap() error {
	return e.err
}

// sessionExpired reports whether err looks like the portal no longer accepts
// our session cookies
func sessionExpired(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.unauthorized()
	}
	var de *decodeError
	return errors.As(err, &de)
}

func (c *WebClient) do(req *http.Request, dest interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		c.logger.Debug("Failed to decode SolarEdge response", "url", req.URL.String(), "error", err)
		return &decodeError{err: err}
	}
	return nil
}
