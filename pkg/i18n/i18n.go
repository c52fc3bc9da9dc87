package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangKO Language = "ko"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDatabase      string
	ServerListening    string
	ShuttingDown       string
	ShutdownComplete   string
	DryRunMode         string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	StrategyLoadFailed string
	APIServerError     string

	// Trading
	StrategiesLoaded   string
	TargetsResolved    string
	TradingStopped     string
	JournalEnabled     string
	OutboxUnresolved   string
	ReconStarted       string
	ReconDiffsDetected string
	ReconOK            string
}

var (
	mu          sync.RWMutex
	currentLang Language = LangEN
	messages    *Messages
)

var messagesEN = Messages{
	Starting:           "starting equity execution core",
	ConfigLoaded:       "config loaded (api port %s)",
	UsingDatabase:      "using %s database",
	ServerListening:    "operator API listening on :%s",
	ShuttingDown:       "shutting down",
	ShutdownComplete:   "shutdown complete",
	DryRunMode:         "DRY RUN: orders are simulated, nothing is sent to the exchange",
	ConfigLoadFailed:   "failed to load config: %v",
	DBInitFailed:       "failed to open database: %v",
	DBMigrationsFailed: "failed to apply migrations: %v",
	StrategyLoadFailed: "failed to load strategies: %v",
	APIServerError:     "operator API error: %v",

	StrategiesLoaded:   "%d strategies registered",
	TargetsResolved:    "%d target tickers",
	TradingStopped:     "trading manager stopped: %v",
	JournalEnabled:     "order journal enabled (redis %s)",
	OutboxUnresolved:   "%d order intents without a local record, check the exchange",
	ReconStarted:       "reconciliation started (interval %v)",
	ReconDiffsDetected: "reconciliation found %d holding differences and %d stale orders",
	ReconOK:            "reconciliation OK",
}

var messagesKO = Messages{
	Starting:           "주식 주문 엔진을 시작합니다",
	ConfigLoaded:       "설정 로드 완료 (API 포트 %s)",
	UsingDatabase:      "%s 데이터베이스 사용",
	ServerListening:    "운영 API 수신 대기 :%s",
	ShuttingDown:       "종료 중",
	ShutdownComplete:   "종료 완료",
	DryRunMode:         "모의 실행: 주문은 거래소로 전송되지 않습니다",
	ConfigLoadFailed:   "설정 로드 실패: %v",
	DBInitFailed:       "데이터베이스 열기 실패: %v",
	DBMigrationsFailed: "마이그레이션 실패: %v",
	StrategyLoadFailed: "전략 로드 실패: %v",
	APIServerError:     "운영 API 오류: %v",

	StrategiesLoaded:   "전략 %d개 등록",
	TargetsResolved:    "대상 종목 %d개",
	TradingStopped:     "트레이딩 매니저 종료: %v",
	JournalEnabled:     "주문 저널 사용 (redis %s)",
	OutboxUnresolved:   "로컬 기록이 없는 주문 의도 %d건, 거래소 확인 필요",
	ReconStarted:       "잔고 대사 시작 (주기 %v)",
	ReconDiffsDetected: "잔고 대사: 보유 차이 %d건, 오래된 미체결 %d건",
	ReconOK:            "잔고 대사 정상",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangKO:
		messages = &messagesKO
	default:
		currentLang = LangEN
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
