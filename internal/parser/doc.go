// Package parser decomposes fetched bodies into a title, a main-content
// excerpt, a normalized raw body and page metadata.
//
// HTML is handled with goquery; JSON and plain text get lightweight
// heuristics. Parsing never fails outright: a body that cannot be decoded
// yields whatever was recoverable plus an error annotation.
package parser
