package collector

import (
	"encoding/json"
	"strconv"
)

func positive(field string, v float64) error {
	if v <= 0 {
		return &ParseError{Field: field, Reason: "missing or non-positive"}
	}
	return nil
}

func num(field, s string) (float64, error) {
	if s == "" {
		return 0, &ParseError{Field: field, Reason: "missing"}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &ParseError{Field: field, Reason: err.Error()}
	}
	return v, nil
}

// optional parses s, returning 0 when it is empty or malformed.
func optional(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &ParseError{Reason: "invalid json: " + err.Error()}
	}
	return nil
}

// [BID, BID_SIZE, ASK, ASK_SIZE, DAILY_CHANGE, DAILY_CHANGE_RELATIVE,
// LAST_PRICE, VOLUME, HIGH, LOW]
func parseBitfinex(data []byte) (Reading, error) {
	var arr []float64
	if err := decode(data, &arr); err != nil {
		return Reading{}, err
	}
	if len(arr) < 7 {
		return Reading{}, &ParseError{Reason: "ticker array too short"}
	}
	r := Reading{Price: arr[6]}
	if len(arr) >= 10 {
		r.Volume, r.High24h, r.Low24h = arr[7], arr[8], arr[9]
	}
	return r, positive("last_price", r.Price)
}

func parseBitstamp(data []byte) (Reading, error) {
	var t struct {
		Last   string `json:"last"`
		Volume string `json:"volume"`
		High   string `json:"high"`
		Low    string `json:"low"`
	}
	if err := decode(data, &t); err != nil {
		return Reading{}, err
	}
	price, err := num("last", t.Last)
	if err != nil {
		return Reading{}, err
	}
	r := Reading{Price: price, Volume: optional(t.Volume), High24h: optional(t.High), Low24h: optional(t.Low)}
	return r, positive("last", r.Price)
}

func parseKraken(data []byte) (Reading, error) {
	var resp struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			C []string `json:"c"`
			V []string `json:"v"`
			H []string `json:"h"`
			L []string `json:"l"`
		} `json:"result"`
	}
	if err := decode(data, &resp); err != nil {
		return Reading{}, err
	}
	if len(resp.Error) > 0 {
		return Reading{}, &ParseError{Reason: resp.Error[0]}
	}
	t, ok := resp.Result["XXBTZEUR"]
	if !ok || len(t.C) == 0 {
		return Reading{}, &ParseError{Field: "result.XXBTZEUR", Reason: "missing"}
	}
	price, err := num("c", t.C[0])
	if err != nil {
		return Reading{}, err
	}
	r := Reading{Price: price}
	// index 1 is the rolling 24h value
	if len(t.V) > 1 {
		r.Volume = optional(t.V[1])
	}
	if len(t.H) > 1 {
		r.High24h = optional(t.H[1])
	}
	if len(t.L) > 1 {
		r.Low24h = optional(t.L[1])
	}
	return r, positive("c", r.Price)
}

func parseCoinbase(data []byte) (Reading, error) {
	var resp struct {
		Data struct {
			Amount string `json:"amount"`
		} `json:"data"`
	}
	if err := decode(data, &resp); err != nil {
		return Reading{}, err
	}
	price, err := num("data.amount", resp.Data.Amount)
	if err != nil {
		return Reading{}, err
	}
	return Reading{Price: price}, positive("data.amount", price)
}

func parseCryptoCompare(data []byte) (Reading, error) {
	var resp struct {
		EUR      float64 `json:"EUR"`
		Response string  `json:"Response"`
		Message  string  `json:"Message"`
	}
	if err := decode(data, &resp); err != nil {
		return Reading{}, err
	}
	if resp.Response == "Error" {
		return Reading{}, &ParseError{Reason: resp.Message}
	}
	return Reading{Price: resp.EUR}, positive("EUR", resp.EUR)
}
