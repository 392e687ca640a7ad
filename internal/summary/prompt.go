// Package summary は抽出テキストを生成エンジン向けのチャンクに分け、学習ノートへ変換します。
package summary

// フォーマットモード
const (
	ModeCheatSheet = "1"
	ModeDetailed   = "2"
)

const cheatSheetTemplate = `Create a SMART CHEAT SHEET with:
- ## Quick Reference section with key formulas
- Clear section headers (## and ###)
- Bullet points (-) for key facts
- **Bold** for important terms
- Formulas on separate lines
- Scannable layout`

const detailedTemplate = `Create DETAILED SUMMARY NOTES with:
- Comprehensive explanations
- Examples for each concept
- Step-by-step processes
- Background information
- Complete coverage of topics`

var templates = map[string]string{
	ModeCheatSheet: cheatSheetTemplate,
	ModeDetailed:   detailedTemplate,
}

// BuildPrompt はモードの指示文のあとにチャンク本文を続けたプロンプトを返します。
// 未知のモードはチートシート形式として扱います。
func BuildPrompt(mode, chunk string) string {
	tmpl, ok := templates[mode]
	if !ok {
		tmpl = templates[ModeCheatSheet]
	}
	return tmpl + "\n\nTransform this content:\n" + chunk
}
