package utils

import (
	"github.com/emirpasic/gods/sets/hashset"
)

// Set 基于hashset的类型化集合
type Set[T comparable] struct {
	set *hashset.Set
}

// List2set 将切片转为集合，重复元素只保留一个
func List2set[T comparable](list []T) *Set[T] {
	set := hashset.New()
	for _, value := range list {
		set.Add(value)
	}
	return &Set[T]{set: set}
}

func (s *Set[T]) Contains(value T) bool {
	return s.set.Contains(value)
}

func (s *Set[T]) Size() int {
	return s.set.Size()
}

// Values 元素顺序不固定
func (s *Set[T]) Values() []T {
	values := make([]T, 0, s.set.Size())
	for _, v := range s.set.Values() {
		values = append(values, v.(T))
	}
	return values
}
