package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestEastmoneyIndexHist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("secid"); got != "1.000300" {
			t.Errorf("secid 期望 1.000300, 实际 %s", got)
		}
		if got := r.URL.Query().Get("klt"); got != "101" {
			t.Errorf("klt 期望 101, 实际 %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"code":"000300","name":"沪深300","klines":[
			"2024-01-02,3490,3500.0,3515.0,3488.8,1000,2000,0.5,-0.31,-11,0.1",
			"2024-01-03,3510,3520.5,3530.1,3500.2,1100,2100,0.6,0.42,14.7,0.1"
		]}}`))
	}))
	defer srv.Close()

	em := NewEastmoney(EastmoneyOptions{BaseURL: srv.URL}, zerolog.Nop())
	raw, err := em.IndexHist(context.Background(), "000300", time.Now().AddDate(-1, 0, 0), time.Now())
	if err != nil {
		t.Fatalf("IndexHist 失败: %v", err)
	}
	if len(raw.Rows) != 2 {
		t.Fatalf("期望 2 行, 实际 %d", len(raw.Rows))
	}

	series := normalizeNamed(raw)
	if len(series) != 2 {
		t.Fatalf("规范化后期望 2 行, 实际 %d", len(series))
	}
	if series[1].Close != 3520.5 || series[1].High != 3530.1 {
		t.Fatalf("数值解析错误: %+v", series[1])
	}
}

func TestEastmoneyEmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":null}`))
	}))
	defer srv.Close()

	em := NewEastmoney(EastmoneyOptions{BaseURL: srv.URL}, zerolog.Nop())
	if _, err := em.IndexHist(context.Background(), "000300", time.Now(), time.Now()); err == nil {
		t.Fatal("空 data 应返回错误")
	}
}

func TestEastmoneyHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	em := NewEastmoney(EastmoneyOptions{BaseURL: srv.URL}, zerolog.Nop())
	if _, err := em.DailyKline(context.Background(), "csi000300", time.Now(), time.Now()); err == nil {
		t.Fatal("非 200 状态应返回错误")
	}
}

func TestSymbolSecID(t *testing.T) {
	cases := []struct {
		symbol string
		want   string
	}{
		{"csi000300", "2.000300"},
		{"sh000001", "1.000001"},
		{"sz399001", "0.399001"},
		{"000300", "1.000300"},
		{"399006", "0.399006"},
	}
	for _, tc := range cases {
		got, err := symbolSecID(tc.symbol)
		if err != nil {
			t.Fatalf("symbolSecID(%s) 失败: %v", tc.symbol, err)
		}
		if got != tc.want {
			t.Fatalf("symbolSecID(%s) = %s, 期望 %s", tc.symbol, got, tc.want)
		}
	}
	if _, err := symbolSecID(""); err == nil {
		t.Fatal("空 symbol 应返回错误")
	}
}

func TestSinaDailyKline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "sz399006" {
			t.Errorf("symbol 期望 sz399006, 实际 %s", got)
		}
		w.Write([]byte(`var=([{"day":"2024-01-02","open":"100","high":"101","low":"99","close":"100.5","volume":"1000"}]);`))
	}))
	defer srv.Close()

	sina := NewSina(SinaOptions{BaseURL: srv.URL}, zerolog.Nop())
	raw, err := sina.DailyKline(context.Background(), SinaSymbol("399006"))
	if err != nil {
		t.Fatalf("DailyKline 失败: %v", err)
	}

	series := normalizeNamed(raw)
	if len(series) != 1 || series[0].Close != 100.5 {
		t.Fatalf("规范化结果错误: %+v", series)
	}
}

func TestParseSinaPayloadBareJSON(t *testing.T) {
	bars, err := parseSinaPayload([]byte(`[{"day":"2024-01-02","close":"100.5"}]`))
	if err != nil {
		t.Fatalf("裸 JSON 应可解析: %v", err)
	}
	if len(bars) != 1 || bars[0].Close != "100.5" {
		t.Fatalf("解析结果错误: %+v", bars)
	}
}

func TestSinaSymbol(t *testing.T) {
	if got := SinaSymbol("399006"); got != "sz399006" {
		t.Fatalf("399 前缀应映射 sz, 实际 %s", got)
	}
	if got := SinaSymbol("000300"); got != "sh000300" {
		t.Fatalf("默认应映射 sh, 实际 %s", got)
	}
}

func TestCSIndexPerf(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("indexCode"); got != "931643" {
			t.Errorf("indexCode 期望 931643, 实际 %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":"200","data":[
			{"tradeDate":"2024-01-02","indexCode":"931643","indexNameCn":"科创创业50","open":1000.1,"high":1010.2,"low":995.3,"close":1005.4,"change":5.3,"changePct":0.53},
			{"tradeDate":"2024-01-03","indexCode":"931643","indexNameCn":"科创创业50","open":"1005.4","high":null,"low":null,"close":"1010.0","change":null,"changePct":null}
		]}`))
	}))
	defer srv.Close()

	cs := NewCSIndex(CSIndexOptions{BaseURL: srv.URL}, zerolog.Nop())
	raw, err := cs.IndexPerf(context.Background(), "931643", time.Now().AddDate(-1, 0, 0), time.Now())
	if err != nil {
		t.Fatalf("IndexPerf 失败: %v", err)
	}

	series := normalizeCSIndex(raw)
	if len(series) != 2 {
		t.Fatalf("规范化后期望 2 行, 实际 %d", len(series))
	}
	if series[0].High != 1010.2 || series[0].Low != 995.3 {
		t.Fatalf("数值解析错误: %+v", series[0])
	}
	if series[1].High != 1010.0 || series[1].Low != 1010.0 {
		t.Fatalf("null high/low 应回退 close: %+v", series[1])
	}
}
