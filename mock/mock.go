// Package mock provides test doubles for margin interfaces using function fields.
package mock
