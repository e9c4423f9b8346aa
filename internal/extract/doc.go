// Package extract applies ordered extraction rules to parsed content.
//
// Each rule kind compiles once into a matcher: selector rules use cascadia
// through goquery, xpath rules use antchfx/xpath over htmlquery nodes,
// pattern rules use RE2, and path rules walk decoded JSON with gjson.
package extract
