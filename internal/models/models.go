package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Candle is one fixed-interval OHLC bar. Sequences handed to the engine are
// ascending by OpenTime.
type Candle struct {
	OpenTime  time.Time `json:"open_time" msgpack:"t"`
	Open      float64   `json:"open" msgpack:"o"`
	High      float64   `json:"high" msgpack:"h"`
	Low       float64   `json:"low" msgpack:"l"`
	Close     float64   `json:"close" msgpack:"c"`
	Volume    float64   `json:"volume" msgpack:"v"`
	CloseTime time.Time `json:"close_time" msgpack:"ct"`
}

type Direction int

const (
	Long Direction = iota
	Short
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Signal is emitted by the scanner when the entry condition holds on the
// newest bar of a symbol.
type Signal struct {
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
	Direction Direction `json:"direction"`
	Time      time.Time `json:"time"`
	Price     float64   `json:"price"`
}

type CandleSubsciption struct {
	Symbol   string
	Interval string
}

// Kline is the raw Binance kline row. Prices come as strings.
type Kline struct {
	Symbol                string `json:"symbol"`
	Interval              string `json:"interval"`
	OpenTime              int64  `json:"open_time"`
	Open                  string `json:"open"`
	High                  string `json:"high"`
	Low                   string `json:"low"`
	Close                 string `json:"close"`
	Volume                string `json:"volume"`
	CloseTime             int64  `json:"close_time"`
	QuoteAssetVolume      string `json:"quote_volume"`
	NumberOfTrades        int    `json:"count"`
	TakerBuyBaseAssetVol  string `json:"taker_buy_volume"`
	TakerBuyQuoteAssetVol string `json:"taker_buy_quote_volume"`
	Ignore                string `json:"-"`
}

// UnmarshalJSON decodes one row of the /klines array response:
// [openTime, open, high, low, close, volume, closeTime, quoteVolume, count,
// takerBuyVolume, takerBuyQuoteVolume, ignore].
func (k *Kline) UnmarshalJSON(b []byte) error {
	var row []any
	if err := json.Unmarshal(b, &row); err != nil {
		return err
	}
	if len(row) < 11 {
		return fmt.Errorf("kline row has %d fields, want at least 11", len(row))
	}

	var err error
	str := func(i int) string {
		s, ok := row[i].(string)
		if !ok && err == nil {
			err = fmt.Errorf("kline field %d: want string, got %T", i, row[i])
		}
		return s
	}
	num := func(i int) int64 {
		f, ok := row[i].(float64)
		if !ok && err == nil {
			err = fmt.Errorf("kline field %d: want number, got %T", i, row[i])
		}
		return int64(f)
	}

	k.OpenTime = num(0)
	k.Open = str(1)
	k.High = str(2)
	k.Low = str(3)
	k.Close = str(4)
	k.Volume = str(5)
	k.CloseTime = num(6)
	k.QuoteAssetVolume = str(7)
	k.NumberOfTrades = int(num(8))
	k.TakerBuyBaseAssetVol = str(9)
	k.TakerBuyQuoteAssetVol = str(10)
	return err
}

// Candle parses the string prices of the kline.
func (k *Kline) Candle() (*Candle, error) {
	var vals [5]float64
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", k.OpenTime, err)
		}
		vals[i] = f
	}
	return &Candle{
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
	}, nil
}

type KlineRequest struct {
	Symbol    string `json:"symbol"`
	Interval  string `json:"interval"`
	OpenTime  int64  `json:"open_time"`
	CloseTime int64  `json:"close_time"`
}

func (kr *KlineRequest) String() string {
	return fmt.Sprintf("symbol=%s&interval=%s", kr.Symbol, kr.Interval)
}

// Ticker24h is the subset of /ticker/24hr used for symbol filtering.
type Ticker24h struct {
	Symbol      string `json:"symbol"`
	QuoteVolume string `json:"quoteVolume"`
	LastPrice   string `json:"lastPrice"`
}

type RequestError struct {
	Err    error
	Status int
	Timer  time.Duration
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// InvalidConfigurationError reports an option that cannot drive a run.
type InvalidConfigurationError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}
