package collector

// yahooChart is the response structure of the Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice   float64 `json:"regularMarketPrice"`
				RegularMarketDayHigh float64 `json:"regularMarketDayHigh"`
				RegularMarketDayLow  float64 `json:"regularMarketDayLow"`
				RegularMarketVolume  float64 `json:"regularMarketVolume"`
				Currency             string  `json:"currency"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Close []interface{} `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

func parseYahoo(data []byte) (Reading, error) {
	var chart yahooChart
	if err := decode(data, &chart); err != nil {
		return Reading{}, err
	}
	if chart.Chart.Error != nil {
		return Reading{}, &ParseError{Reason: chart.Chart.Error.Description}
	}
	if len(chart.Chart.Result) == 0 {
		return Reading{}, &ParseError{Field: "chart.result", Reason: "no data returned"}
	}
	res := chart.Chart.Result[0]
	if res.Meta.Currency != "" && res.Meta.Currency != "EUR" {
		return Reading{}, &ParseError{Field: "meta.currency", Reason: "unexpected currency " + res.Meta.Currency}
	}

	price := res.Meta.RegularMarketPrice
	if price <= 0 && len(res.Indicators.Quote) > 0 {
		// last non-null close
		closes := res.Indicators.Quote[0].Close
		for i := len(closes) - 1; i >= 0 && price <= 0; i-- {
			price = toFloat(closes[i])
		}
	}
	r := Reading{
		Price:   price,
		Volume:  res.Meta.RegularMarketVolume,
		High24h: res.Meta.RegularMarketDayHigh,
		Low24h:  res.Meta.RegularMarketDayLow,
	}
	return r, positive("meta.regularMarketPrice", r.Price)
}
