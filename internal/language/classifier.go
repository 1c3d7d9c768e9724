// Package language は記事本文の言語判定を提供する。
package language

import (
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
)

const (
	// MinTextLength は統計的な言語判定に必要な最小文字数（ルーン数）。
	// これ未満の本文はフィードの宣言言語を暫定値として人手確認に回す。
	MinTextLength = 100

	// lowConfidence はこの値未満の判定を信頼しない下限。
	lowConfidence = 0.5

	// highConfidence はフィードの宣言言語との不一致を検出結果で上書きできる上限。
	highConfidence = 0.9
)

// Classification は言語判定の結果を表す。
type Classification struct {
	Language          string  // ISO 639-1コード。空は判定不能
	Confidence        float64 // 検出器の信頼度（0.0〜1.0）。検出を行わなかった場合は0
	NeedsManualReview bool    // 人手確認が必要
}

// supportedLanguages は対応言語のISO 639-1コード集合。
var supportedLanguages = map[string]struct{}{
	"en": {}, "es": {}, "pt": {}, "fr": {}, "ar": {},
	"zh": {}, "ja": {}, "de": {}, "it": {}, "ru": {},
}

// languageNames はフィードが宣言する言語名からISO 639-1コードへの対応表。
var languageNames = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"portuguese": "pt",
	"french":     "fr",
	"arabic":     "ar",
	"chinese":    "zh",
	"japanese":   "ja",
	"german":     "de",
	"italian":    "it",
	"russian":    "ru",
}

// Supported は指定のISO 639-1コードが対応言語かを返す。
func Supported(code string) bool {
	_, ok := supportedLanguages[code]
	return ok
}

// Normalize は言語の宣言値（ISO 639-1コードまたは英語名）を
// 対応言語のISO 639-1コードへ正規化する。対応外の値には空文字列を返す。
// 地域付きコード（"en-US"等）は基底言語へ丸める。
func Normalize(declared string) string {
	value := strings.ToLower(strings.TrimSpace(declared))
	if value == "" {
		return ""
	}

	if idx := strings.IndexAny(value, "-_"); idx > 0 {
		value = value[:idx]
	}

	if Supported(value) {
		return value
	}
	if code, ok := languageNames[value]; ok {
		return code
	}
	return ""
}

// Classify は本文テキストの言語を判定する。純粋関数であり、I/Oも内部状態も持たない。
//
// 判定規則:
//   - 空白除去後に空のテキストは判定不能（言語空、要確認）
//   - MinTextLength未満の短文はフィードの宣言言語を暫定値として要確認
//   - 検出の信頼度がlowConfidence未満の場合も宣言言語へフォールバックして要確認
//   - 検出結果と宣言言語が食い違う場合、信頼度がhighConfidence以上なら検出結果を採用し、
//     それ未満なら検出結果を暫定値として要確認
func Classify(text, feedHint string) Classification {
	hint := Normalize(feedHint)

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Classification{Language: "", NeedsManualReview: true}
	}

	if utf8.RuneCountInString(trimmed) < MinTextLength {
		return Classification{Language: hint, NeedsManualReview: true}
	}

	info := whatlanggo.Detect(trimmed)
	detected := info.Lang.Iso6391()
	confidence := info.Confidence

	if detected == "" || confidence < lowConfidence {
		return Classification{Language: hint, Confidence: confidence, NeedsManualReview: true}
	}

	if !Supported(detected) {
		return Classification{Language: detected, Confidence: confidence, NeedsManualReview: true}
	}

	if hint != "" && hint != detected && confidence < highConfidence {
		return Classification{Language: detected, Confidence: confidence, NeedsManualReview: true}
	}

	return Classification{Language: detected, Confidence: confidence}
}
