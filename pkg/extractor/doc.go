// Package extractor turns rendered timeline articles into posts.
package extractor
