package railway

import (
	"encoding/json"
	"regexp"
	"strconv"

	"rail_sniper/internal/domain"
)

// Pipe-delimited field indices of a query result row. These are an upstream
// contract and shift occasionally; adjust here when the service changes.
const (
	fieldSecretStr   = 0
	fieldTrainNo     = 2
	fieldTrainCode   = 3
	fieldStartCode   = 4
	fieldEndCode     = 5
	fieldFromCode    = 6
	fieldToCode      = 7
	fieldDepartTime  = 8
	fieldArriveTime  = 9
	fieldDuration    = 10
	fieldCanWebBuy   = 11
	fieldAdvSleeper  = 21
	fieldSoftSleeper = 23
	fieldStanding    = 26
	fieldSoftSeat    = 27
	fieldHardSleeper = 28
	fieldHardSeat    = 29
	fieldSecond      = 30
	fieldFirst       = 31
	fieldBusiness    = 32

	minRowFields = 33
)

// seatFields maps seat class names to their row indices.
var seatFields = map[string]int{
	domain.SeatBusiness:    fieldBusiness,
	domain.SeatFirst:       fieldFirst,
	domain.SeatSecond:      fieldSecond,
	domain.SeatAdvSleeper:  fieldAdvSleeper,
	domain.SeatSoftSleeper: fieldSoftSleeper,
	domain.SeatHardSleeper: fieldHardSleeper,
	domain.SeatSoftSeat:    fieldSoftSeat,
	domain.SeatHardSeat:    fieldHardSeat,
	domain.SeatStanding:    fieldStanding,
}

// SeatClassCode maps seat class names to the upstream seat type codes used
// by the confirm endpoint.
var SeatClassCode = map[string]string{
	domain.SeatBusiness:    "9",
	domain.SeatFirst:       "7",
	domain.SeatSecond:      "8",
	domain.SeatAdvSleeper:  "6",
	domain.SeatSoftSleeper: "4",
	domain.SeatHardSleeper: "3",
	domain.SeatSoftSeat:    "2",
	domain.SeatHardSeat:    "1",
	domain.SeatStanding:    "0",
}

var remainingPattern = regexp.MustCompile(`[0-9]+`)

// ParseSeatCount normalizes the upstream's textual seat counts into the
// numeric domain the change detector compares over:
//
//	"有" / "大量"  -> CountPlentiful
//	"" / "无" / "--" / "*" / "候补" -> 0
//	"12"          -> 12
//	"剩余3张"     -> 3
//
// Anything else normalizes to 0; the caller logs a warning via the ok flag.
func ParseSeatCount(raw string) (count int, ok bool) {
	switch raw {
	case "有", "大量":
		return domain.CountPlentiful, true
	case "", "无", "无票", "--", "*", "候补":
		return 0, true
	}
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 {
			return 0, false
		}
		return n, true
	}
	// "remaining N" style text: pull out the digit run.
	if m := remainingPattern.FindString(raw); m != "" {
		n, err := strconv.Atoi(m)
		if err == nil {
			return n, true
		}
	}
	return 0, false
}

// banIndicators are message fragments that mean the session is being
// throttled or blocked rather than a plain request failure.
var banIndicators = []string{
	"captcha login out",
	"登录超时",
	"用户已被锁定",
	"网络繁忙",
	"服务不可用",
	"系统繁忙",
	"操作失败",
}

// queryResponse is the query endpoint's JSON envelope.
type queryResponse struct {
	Status     bool `json:"status"`
	HTTPStatus int  `json:"httpstatus"`
	Messages   []string `json:"messages"`
	Data       struct {
		Result []string          `json:"result"`
		Map    map[string]string `json:"map"`
	} `json:"data"`
}

// submitResponse is the submit endpoint's JSON envelope.
type submitResponse struct {
	Status     bool     `json:"status"`
	HTTPStatus int      `json:"httpstatus"`
	Messages   []string `json:"messages"`
	Data       struct {
		IfShowPassCode   string `json:"ifShowPassCode"`
		KeyCheckIsChange string `json:"key_check_isChange"`
		LeftTicketStr    string `json:"leftTicketStr"`
		TrainLocation    string `json:"train_location"`
	} `json:"data"`
}

// confirmResponse is the confirm endpoint's JSON envelope.
type confirmResponse struct {
	Status     bool     `json:"status"`
	HTTPStatus int      `json:"httpstatus"`
	Messages   []string `json:"messages"`
	Data       struct {
		SubmitStatus bool   `json:"submitStatus"`
		OrderID      string `json:"orderId"`
		TicketPrice  string `json:"ticketPrice"`
		ErrMsg       string `json:"errMsg"`
	} `json:"data"`
}

// captchaCheckResponse is the captcha verification envelope.
type captchaCheckResponse struct {
	ResultCode    json.Number `json:"result_code"`
	ResultMessage string      `json:"result_message"`
}

// passengersResponse is the passenger query envelope.
type passengersResponse struct {
	Status bool `json:"status"`
	Data   struct {
		NormalPassengers []struct {
			PassengerName    string `json:"passenger_name"`
			PassengerIDType  string `json:"passenger_id_type_code"`
			PassengerIDNo    string `json:"passenger_id_no"`
			MobileNo         string `json:"mobile_no"`
		} `json:"normal_passengers"`
	} `json:"data"`
}
