// Package tokenizer provides token counting for budget enforcement.
package tokenizer
