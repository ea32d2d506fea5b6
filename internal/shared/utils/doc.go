// Package utils holds request limits and content hashing shared by the API.
package utils
