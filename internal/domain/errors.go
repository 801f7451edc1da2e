package domain

import "errors"

// Ошибки получения данных.
var (
	// ErrTierFailed — уровень не смог получить данные; следующая
	// стратегия пробуется без прерывания цикла.
	ErrTierFailed = errors.New("источник: уровень не дал данных")
	// ErrMalformedPayload — ответ получен, но его структура не похожа
	// на данные источника; считается отказом уровня.
	ErrMalformedPayload = errors.New("источник: неожиданная структура ответа")
	// ErrFetchExhausted — все уровни отказали и снапшота нет.
	ErrFetchExhausted = errors.New("источник: все уровни недоступны и нет снапшота")
)

// Ошибки хранилища.
var (
	ErrStorageCorrupt       = errors.New("хранилище: файл повреждён")
	ErrSubscriptionNotFound = errors.New("хранилище: подписка не найдена")
	ErrSnapshotMissing      = errors.New("хранилище: снапшот отсутствует")
	ErrCycleMissing         = errors.New("хранилище: нет отметки о циклах")
)
