// Package utils provides small reusable helpers shared by the service packages.
//
// Functional Programming Utilities:
//   - Map, Filter, Reduce: Generic implementations for slice processing.
//
// Slices:
//   - Contains, Uniq
//
// Random:
//   - GenerateRandomString: alphanumeric secrets such as temporary passwords.
//
// HTTP (http.go):
//   - RespondError, ParseIDParam, ParseIDQuery shared by the gin handlers.
package utils

import (
	"crypto/rand"
)

/* some Functional Programming in Go */
// map
type mapFunc[E any, R any] func(E) R

// Map function definition of a functional programming "function"
func Map[S ~[]E, E any, R any](s S, f mapFunc[E, R]) []R {
	result := make([]R, len(s))
	for i, e := range s {
		result[i] = f(e)
	}

	return result
}

// filter
type keepFunc[E any] func(E) bool

// Filter function definition of a functional programming "function"
func Filter[S ~[]E, E any](s S, f keepFunc[E]) S {
	result := S{}
	for _, v := range s {
		if f(v) {
			result = append(result, v)
		}
	}

	return result
}

// reduce
type reduceFunc[E any, A any] func(acc A, next E) A

// Reduce folds s into an accumulator starting at init
func Reduce[E any, A any](s []E, init A, f reduceFunc[E, A]) A {
	cur := init
	for _, v := range s {
		cur = f(cur, v)
	}

	return cur
}

// Contains function iterates over a slice and checks if the given value is there
func Contains[E comparable](slice []E, val E) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}

	return false
}

// Uniq drops duplicates and zero values, keeping first-seen order
func Uniq[E comparable](in []E) []E {
	var zero E
	seen := make(map[E]struct{}, len(in))
	out := make([]E, 0, len(in))
	for _, v := range in {
		if v == zero {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	return out
}

// GenerateRandomString returns an alphanumeric string of the given length
func GenerateRandomString(length int) (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	bytes := make([]byte, length)
	random := make([]byte, length)
	_, err := rand.Read(random)
	if err != nil {
		return "", err
	}
	for i := 0; i < length; i++ {
		bytes[i] = chars[int(random[i])%len(chars)]
	}
	return string(bytes), nil
}
