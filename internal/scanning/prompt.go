package scanning

// receiptScanPrompt is shared by every extraction provider
const receiptScanPrompt = `You are reading a grocery or retail receipt. Extract every purchased line and the store that issued the receipt.

Return ONLY valid JSON in this exact shape:
{
  "store": {"name": "", "address": "", "city": "", "state": "", "store_code": "", "phone": ""},
  "transaction": {"date": "YYYY-MM-DD", "time": "HH:MM", "subtotal": 0.00, "tax": 0.00, "total": 0.00, "payment_method": ""},
  "items": [
    {
      "raw_text": "the line exactly as printed",
      "brand": "brand name or null",
      "item": "product name without the brand",
      "quantity": 1,
      "unit": "lb, oz, ct, gal or null",
      "unit_price": 0.00,
      "total_price": 0.00,
      "taxable": false,
      "tax_amount": null,
      "store_code": "the SKU or item number printed on the line, or null"
    }
  ]
}

Rules:
- raw_text must be copied exactly as printed, including abbreviations
- Expand abbreviations in brand and item when you are confident ("GV" is "Great Value")
- quantity is the number of units bought; use 1 when the line does not say
- Prices are numbers, not strings, in dollars and cents
- Mark taxable true when the line carries a tax flag such as "T" or "X"
- Do not include subtotal, tax, total, payment or change lines as items
- Use null for anything you cannot read
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// extractionSystemPrompt primes chat-style models before the receipt prompt
const extractionSystemPrompt = "You are an expert at reading receipts. Read every line of the image carefully and report only what is printed."
