package extract

// extractionPrompt instructs the model to emit the invoice JSON shape.
// The issuer block is deliberately left blank: issuer identity is attached
// later from the configured patterns, never extracted.
const extractionPrompt = `あなたは請求書データ抽出の専門家です。以下の例を参考に、テキストから請求書情報をJSON形式で抽出してください。

【抽出例】
入力テキスト:
"""
請求先: 株式会社ABC
住所: 〒150-0042 東京都渋谷区宇田川町1-2-3
請求日: 2025年12月31日
支払期限: 2026年1月31日

明細:
| 品目 | 単価 | 数量 | 金額(税込) |
| コンサルティング費用 | ¥100,000 | 2 | ¥200,000 |
| システム開発費 | ¥50,000 | 3 | ¥150,000 |
| 合計 | | | ¥350,000 |
"""

出力JSON:
{
  "invoiceNumber": "",
  "issueDate": "2025-12-31",
  "dueDate": "2026-01-31",
  "recipient": {
    "name": "株式会社ABC",
    "address": "東京都渋谷区宇田川町1-2-3",
    "postalCode": "1500042"
  },
  "issuer": {
    "name": "",
    "address": "",
    "postalCode": "",
    "phone": "",
    "email": "",
    "bankInfo": ""
  },
  "items": [
    {
      "description": "コンサルティング費用",
      "quantity": 2,
      "unitPrice": 90909,
      "amount": 181818
    },
    {
      "description": "システム開発費",
      "quantity": 3,
      "unitPrice": 45455,
      "amount": 136365
    }
  ],
  "subtotal": 0,
  "tax": 0,
  "total": 0,
  "notes": ""
}

【重要ルール】
1. 表の各データ行を個別の明細として抽出（ヘッダー行と合計行は除外）
2. 税込金額は1.1で割って税抜に変換
3. 日付はYYYY-MM-DD形式に変換
4. 金額から¥や,を除去
5. マイナス金額も対応（例: -12000）
6. 発行者情報（issuer）は空のまま
7. 必ず有効なJSONのみ返す`
