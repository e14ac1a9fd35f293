// Package railway is the boundary layer to the 12306-style ticketing
// service: left-ticket queries, order submission and confirmation, captcha
// fetch, and passenger lookup, all over one cookie-backed session.
package railway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"rail_sniper/internal/domain"
	"rail_sniper/internal/infra"
)

const (
	queryPath         = "/otn/leftTicket/query"
	queryFallbackPath = "/otn/leftTicket/queryZ"
	submitPath        = "/otn/leftTicket/submitOrderRequest"
	confirmPath       = "/otn/confirmPassenger/confirmSingleForQueue"
	captchaImagePath  = "/otn/passcodeNew/getPassCodeNew"
	captchaCheckPath  = "/otn/passcodeNew/checkRandCodeAnsyn"
	passengersPath    = "/otn/passengers/query"
	checkUserPath     = "/otn/login/checkUser"
)

// Client is the ticketing service REST client (boundary layer).
// It also implements domain.AuthProvider via the session it carries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a client with a fresh cookie jar and browser-like
// defaults. Session cookies come from the config's credential blob.
func NewClient(cfg *infra.Config) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	c := &Client{
		baseURL: cfg.Upstream.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Upstream.Timeout(),
			Jar:     jar,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		logger: slog.Default().With("module", "railway"),
	}

	if cfg.Upstream.Cookie != "" {
		if err := c.SetCookieString(cfg.Upstream.Cookie); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SetCookieString installs a raw "k=v; k2=v2" cookie header into the jar.
func (c *Client) SetCookieString(raw string) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse base url: %w", err)
	}
	var cookies []*http.Cookie
	for _, part := range strings.Split(raw, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: kv[0], Value: kv[1]})
	}
	c.httpClient.Jar.SetCookies(u, cookies)
	return nil
}

// QueryLeftTickets issues one availability query for a (date, origin,
// destination) triple and returns normalized snapshots. Falls back to the
// secondary query path when the primary returns an unusable payload.
func (c *Client) QueryLeftTickets(ctx context.Context, date, fromCode, toCode string) ([]*domain.SeatSnapshot, error) {
	params := url.Values{}
	params.Set("leftTicketDTO.train_date", date)
	params.Set("leftTicketDTO.from_station", fromCode)
	params.Set("leftTicketDTO.to_station", toCode)
	params.Set("purpose_codes", "ADULT")

	var lastErr error
	for _, path := range []string{queryPath, queryFallbackPath} {
		snaps, err := c.queryOnce(ctx, path, params, date)
		if err == nil {
			return snaps, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) queryOnce(ctx context.Context, path string, params url.Values, date string) ([]*domain.SeatSnapshot, error) {
	body, status, err := c.get(ctx, path+"?"+params.Encode())
	if err != nil {
		return nil, &domain.UpstreamError{Op: "query", Err: err}
	}
	if status != http.StatusOK {
		return nil, &domain.UpstreamError{Op: "query", Status: status, RateLimited: isThrottleStatus(status)}
	}

	var resp queryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.UpstreamError{Op: "query", Message: "malformed payload", Err: err}
	}
	if !resp.Status {
		return nil, &domain.UpstreamError{
			Op:          "query",
			Message:     firstMessage(resp.Messages, "query rejected"),
			RateLimited: containsBanIndicator(resp.Messages),
		}
	}
	if len(resp.Data.Result) == 0 {
		return nil, &domain.UpstreamError{Op: "query", Message: "empty result"}
	}

	snaps := make([]*domain.SeatSnapshot, 0, len(resp.Data.Result))
	for _, row := range resp.Data.Result {
		snap, err := c.parseRow(row, resp.Data.Map, date)
		if err != nil {
			// One bad row must not discard the rest of the response.
			c.logger.Warn("skipping unparseable result row", slog.Any("error", err))
			continue
		}
		snaps = append(snaps, snap)
	}
	if len(snaps) == 0 {
		return nil, &domain.UpstreamError{Op: "query", Message: "no parseable rows"}
	}
	return snaps, nil
}

func (c *Client) parseRow(row string, stationMap map[string]string, date string) (*domain.SeatSnapshot, error) {
	fields := strings.Split(row, "|")
	if len(fields) < minRowFields {
		return nil, fmt.Errorf("row has %d fields, want at least %d", len(fields), minRowFields)
	}
	if fields[fieldTrainCode] == "" {
		return nil, fmt.Errorf("row missing train code")
	}

	counts := make(map[string]int, len(seatFields))
	for class, idx := range seatFields {
		n, ok := ParseSeatCount(fields[idx])
		if !ok {
			c.logger.Warn("unparseable seat count, treating as sold out",
				slog.String("train", fields[fieldTrainCode]),
				slog.String("class", class),
				slog.String("raw", fields[idx]),
			)
		}
		counts[class] = n
	}

	stationName := func(code string) string {
		if name, ok := stationMap[code]; ok {
			return name
		}
		return code
	}

	return &domain.SeatSnapshot{
		TrainCode:   fields[fieldTrainCode],
		SecretStr:   fields[fieldSecretStr],
		FromStation: stationName(fields[fieldFromCode]),
		ToStation:   stationName(fields[fieldToCode]),
		DepartTime:  fields[fieldDepartTime],
		ArriveTime:  fields[fieldArriveTime],
		Date:        date,
		CanWebBuy:   fields[fieldCanWebBuy] == "Y",
		Counts:      counts,
	}, nil
}

// SubmitOrder posts the session secret plus trip parameters to the submit
// endpoint. A "seat no longer available" rejection comes back as a
// retriable OrderError(SEAT_UNAVAILABLE): losing the race to another buyer
// between detection and submission is expected.
func (c *Client) SubmitOrder(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitReply, error) {
	payload := map[string]string{
		"secretStr":               req.SecretStr,
		"train_date":              req.TrainDate,
		"back_train_date":         "",
		"tour_flag":               "dc",
		"purpose_codes":           "ADULT",
		"query_from_station_name": req.FromStation,
		"query_to_station_name":   req.ToStation,
	}

	body, status, err := c.postJSON(ctx, submitPath, payload)
	if err != nil {
		return nil, &domain.UpstreamError{Op: "submit", Err: err}
	}
	if status != http.StatusOK {
		return nil, &domain.UpstreamError{Op: "submit", Status: status, RateLimited: isThrottleStatus(status)}
	}

	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.UpstreamError{Op: "submit", Message: "malformed payload", Err: err}
	}
	if !resp.Status {
		msg := firstMessage(resp.Messages, "submit rejected")
		if containsBanIndicator(resp.Messages) {
			return nil, &domain.UpstreamError{Op: "submit", Message: msg, RateLimited: true}
		}
		if isSoldOutMessage(msg) {
			return nil, &domain.OrderError{Kind: domain.FailSeatUnavailable, Message: msg, Retriable: true}
		}
		return nil, &domain.OrderError{Kind: domain.FailSubmitFailed, Message: msg, Retriable: true}
	}

	return &domain.SubmitReply{
		NeedCaptcha:      resp.Data.IfShowPassCode == "Y",
		KeyCheckIsChange: resp.Data.KeyCheckIsChange,
		LeftTicketStr:    resp.Data.LeftTicketStr,
		TrainLocation:    resp.Data.TrainLocation,
	}, nil
}

// FetchCaptcha downloads the current challenge image.
func (c *Client) FetchCaptcha(ctx context.Context) ([]byte, error) {
	params := url.Values{}
	params.Set("module", "passenger")
	params.Set("rand", "randp")

	body, status, err := c.get(ctx, captchaImagePath+"?"+params.Encode())
	if err != nil {
		return nil, &domain.UpstreamError{Op: "captcha", Err: err}
	}
	if status != http.StatusOK {
		return nil, &domain.UpstreamError{Op: "captcha", Status: status, RateLimited: isThrottleStatus(status)}
	}
	if len(body) == 0 {
		return nil, &domain.UpstreamError{Op: "captcha", Message: "empty image"}
	}
	return body, nil
}

// SubmitCaptcha verifies a solved challenge token against the session.
func (c *Client) SubmitCaptcha(ctx context.Context, token string) error {
	payload := map[string]string{
		"randCode": token,
		"rand":     "randp",
	}
	body, status, err := c.postJSON(ctx, captchaCheckPath, payload)
	if err != nil {
		return &domain.UpstreamError{Op: "captcha", Err: err}
	}
	if status != http.StatusOK {
		return &domain.UpstreamError{Op: "captcha", Status: status, RateLimited: isThrottleStatus(status)}
	}

	var resp captchaCheckResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return &domain.UpstreamError{Op: "captcha", Message: "malformed payload", Err: err}
	}
	if resp.ResultCode.String() != "0" {
		return &domain.OrderError{
			Kind:      domain.FailCaptchaFailed,
			Message:   resp.ResultMessage,
			Retriable: true,
		}
	}
	return nil
}

// ConfirmOrder posts the final confirmation and returns the order number
// and price on success.
func (c *Client) ConfirmOrder(ctx context.Context, req domain.ConfirmRequest) (*domain.ConfirmReply, error) {
	seatCode, ok := SeatClassCode[req.SeatClass]
	if !ok {
		return nil, &domain.OrderError{
			Kind:    domain.FailConfirmFailed,
			Message: "unknown seat class " + req.SeatClass,
		}
	}

	payload := map[string]string{
		"passengerTicketStr": BuildPassengerTicketStr(req.Passengers, seatCode),
		"oldPassengerStr":    buildOldPassengerStr(req.Passengers),
		"randCode":           req.CaptchaToken,
		"purpose_codes":      "00",
		"key_check_isChange": req.KeyCheckIsChange,
		"leftTicketStr":      req.LeftTicketStr,
		"train_location":     req.TrainLocation,
		"choose_seats":       "",
		"seatDetailType":     "000",
		"whatselect":         "1",
		"roomType":           "00",
		"dwAll":              "N",
	}

	body, status, err := c.postJSON(ctx, confirmPath, payload)
	if err != nil {
		return nil, &domain.UpstreamError{Op: "confirm", Err: err}
	}
	if status != http.StatusOK {
		return nil, &domain.UpstreamError{Op: "confirm", Status: status, RateLimited: isThrottleStatus(status)}
	}

	var resp confirmResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.UpstreamError{Op: "confirm", Message: "malformed payload", Err: err}
	}
	if !resp.Status {
		msg := firstMessage(resp.Messages, "confirm rejected")
		if containsBanIndicator(resp.Messages) {
			return nil, &domain.UpstreamError{Op: "confirm", Message: msg, RateLimited: true}
		}
		return nil, &domain.OrderError{Kind: domain.FailConfirmFailed, Message: msg, Retriable: true}
	}
	if !resp.Data.SubmitStatus {
		msg := resp.Data.ErrMsg
		if msg == "" {
			msg = "order rejected"
		}
		return nil, &domain.OrderError{Kind: domain.FailOrderFailed, Message: msg, Retriable: false}
	}

	price := decimal.Zero
	if resp.Data.TicketPrice != "" {
		if p, err := decimal.NewFromString(resp.Data.TicketPrice); err == nil {
			price = p
		} else {
			c.logger.Warn("unparseable ticket price", slog.String("raw", resp.Data.TicketPrice))
		}
	}

	return &domain.ConfirmReply{OrderNo: resp.Data.OrderID, Price: price}, nil
}

// IsTokenFresh probes the session with the upstream's user check endpoint.
func (c *Client) IsTokenFresh(ctx context.Context) bool {
	body, status, err := c.postJSON(ctx, checkUserPath, map[string]string{"_json_att": ""})
	if err != nil || status != http.StatusOK {
		return false
	}
	var resp struct {
		Data struct {
			Flag bool `json:"flag"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false
	}
	return resp.Data.Flag
}

// Passengers fetches the account's bookable profiles.
func (c *Client) Passengers(ctx context.Context) ([]domain.Passenger, error) {
	body, status, err := c.postJSON(ctx, passengersPath, map[string]string{})
	if err != nil {
		return nil, &domain.UpstreamError{Op: "passengers", Err: err}
	}
	if status != http.StatusOK {
		return nil, &domain.UpstreamError{Op: "passengers", Status: status, RateLimited: isThrottleStatus(status)}
	}

	var resp passengersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.UpstreamError{Op: "passengers", Message: "malformed payload", Err: err}
	}
	if !resp.Status {
		return nil, &domain.UpstreamError{Op: "passengers", Message: "passenger query rejected"}
	}

	passengers := make([]domain.Passenger, 0, len(resp.Data.NormalPassengers))
	for _, p := range resp.Data.NormalPassengers {
		passengers = append(passengers, domain.Passenger{
			Name:   p.PassengerName,
			IDType: p.PassengerIDType,
			IDNo:   p.PassengerIDNo,
			Mobile: p.MobileNo,
		})
	}
	return passengers, nil
}

// BuildPassengerTicketStr encodes passengers into the confirm endpoint's
// ticket string: seatCode,0,ticketType,name,idType,idNo,mobile,N per head.
func BuildPassengerTicketStr(passengers []domain.Passenger, seatCode string) string {
	parts := make([]string, 0, len(passengers))
	for _, p := range passengers {
		idType := p.IDType
		if idType == "" {
			idType = "1"
		}
		parts = append(parts, strings.Join([]string{
			seatCode, "0", "1", p.Name, idType, p.IDNo, p.Mobile, "N",
		}, ","))
	}
	return strings.Join(parts, ",")
}

func buildOldPassengerStr(passengers []domain.Passenger) string {
	parts := make([]string, 0, len(passengers))
	for _, p := range passengers {
		parts = append(parts, fmt.Sprintf("%s,%s,%s,1", p.Name, p.IDType, p.IDNo))
	}
	return strings.Join(parts, "_")
}

func (c *Client) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	return c.do(req)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	req.Header.Set("User-Agent", infra.DefaultUserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")
	req.Header.Set("Referer", c.baseURL+"/otn/leftTicket/init")
	req.Header.Set("Origin", c.baseURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func isThrottleStatus(status int) bool {
	return status == http.StatusForbidden ||
		status == http.StatusTooManyRequests ||
		status == http.StatusServiceUnavailable
}

func firstMessage(msgs []string, fallback string) string {
	if len(msgs) > 0 && msgs[0] != "" {
		return msgs[0]
	}
	return fallback
}

func containsBanIndicator(msgs []string) bool {
	for _, msg := range msgs {
		for _, ind := range banIndicators {
			if strings.Contains(msg, ind) {
				return true
			}
		}
	}
	return false
}

func isSoldOutMessage(msg string) bool {
	for _, marker := range []string{"无票", "已售完", "没有足够的票", "售罄"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
