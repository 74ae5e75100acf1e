/**
 * Copyright (c) 2024 Peking University and Peking University
 * Changsha Institute for Computing and Digital Economy
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package util

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParseCpuList splits a comma-delimited list of CPU counts. Tokens are
// trimmed; duplicates are kept and order is preserved.
func ParseCpuList(list string) ([]uint32, error) {
	if strings.TrimSpace(list) == "" {
		return nil, fmt.Errorf("cpu list is empty")
	}

	tokens := strings.Split(list, ",")
	cpus := make([]uint32, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		num, err := strconv.ParseUint(token, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid cpu count '%s'", token)
		}
		if num == 0 {
			return nil, fmt.Errorf("cpu count must be > 0, got '%s'", token)
		}
		cpus = append(cpus, uint32(num))
	}
	return cpus, nil
}

// ParseDurationStrToSeconds parses "day-hours:minutes:seconds" or
// "hours:minutes:seconds" time limits.
func ParseDurationStrToSeconds(time string) (int64, error) {
	re := regexp.MustCompile(`^((\d+)-)?(\d+):(\d+):(\d+)$`)
	result := re.FindStringSubmatch(time)
	if result == nil {
		return 0, fmt.Errorf("invalid time limit format: %s", time)
	}
	var dd uint64 = 0
	if result[1] != "" {
		day, err := strconv.ParseUint(result[2], 10, 32)
		if err != nil {
			return 0, err
		}
		dd = day
	}
	hh, err := strconv.ParseUint(result[3], 10, 32)
	if err != nil {
		return 0, err
	}
	mm, err := strconv.ParseUint(result[4], 10, 32)
	if err != nil {
		return 0, err
	}
	ss, err := strconv.ParseUint(result[5], 10, 32)
	if err != nil {
		return 0, err
	}

	return int64(24*60*60*dd + 60*60*hh + 60*mm + ss), nil
}

func SecondTimeFormat(second int64) string {
	timeFormat := ""
	dd := second / 24 / 3600
	second %= 24 * 3600
	hh := second / 3600
	second %= 3600
	mm := second / 60
	ss := second % 60
	if dd > 0 {
		timeFormat = fmt.Sprintf("%d-%02d:%02d:%02d", dd, hh, mm, ss)
	} else {
		timeFormat = fmt.Sprintf("%02d:%02d:%02d", hh, mm, ss)
	}
	return timeFormat
}

// ParseMemStringAsByte accepts GB(G, g), MB(M, m), KB(K, k) and Bytes(B),
// default unit is MB.
func ParseMemStringAsByte(mem string) (uint64, error) {
	re := regexp.MustCompile(`^([0-9]+(\.?[0-9]*))([MmGgKkB]?)$`)
	result := re.FindAllStringSubmatch(mem, -1)
	if result == nil || len(result) != 1 {
		return 0, fmt.Errorf("invalid memory format")
	}
	sz, err := strconv.ParseFloat(result[0][1], 64)
	if err != nil {
		return 0, err
	}
	switch result[0][len(result[0])-1] {
	case "M", "m":
		return uint64(1024 * 1024 * sz), nil
	case "G", "g":
		return uint64(1024 * 1024 * 1024 * sz), nil
	case "K", "k":
		return uint64(1024 * sz), nil
	case "B":
		return uint64(sz), nil
	}
	// default unit is MB
	return uint64(1024 * 1024 * sz), nil
}

func ConvertSliceToString[T any](slice []T, sep string) string {
	strSlice := make([]string, len(slice))
	for i, v := range slice {
		strSlice[i] = fmt.Sprint(v)
	}
	return strings.Join(strSlice, sep)
}
