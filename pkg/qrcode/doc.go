// Package qrcode renders hosted checkout links as QR images so a payment
// request can travel through channels where a link is not clickable:
// printed invoices, terminal receipts, support chat screenshots.
//
// PNG returns raw image bytes; DataURI wraps them as a base64 data URI
// for direct embedding in transactional emails. Links are validated to
// be absolute http(s) URLs before encoding, since a QR of anything else
// fails silently at scan time rather than at render time.
package qrcode
